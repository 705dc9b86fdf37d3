//go:build postgres

package services

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/models"
)

// Run with: FILESHARE_TEST_POSTGRES_DSN=... go test -tags postgres ./services
func newPostgresEnv(t *testing.T) *env {
	t.Helper()
	dsn := os.Getenv("FILESHARE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FILESHARE_TEST_POSTGRES_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return buildEnv(t, db, false)
}

func TestPostgresConcurrentOwnershipTransfers(t *testing.T) {
	e := newPostgresEnv(t)
	ctx := context.Background()
	alice := e.identity.add("Alice")
	ws := e.workspace(t, alice)

	candidates := make([]uuid.UUID, 6)
	for i := range candidates {
		candidates[i] = e.identity.add("Member" + string(rune('A'+i)))
		e.join(t, ws, candidates[i], models.RoleEditor)
	}

	errs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i, target := range candidates {
		wg.Add(1)
		go func(i int, target uuid.UUID) {
			defer wg.Done()
			_, errs[i] = e.workspaces.SetRole(ctx, alice, ws.ID, target, models.RoleOwner)
		}(i, target)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, apperrors.KindForbidden)
	}
	assert.Equal(t, 1, succeeded)
	assert.EqualValues(t, 1, ownerCount(t, e.db, ws.ID))
}

func TestPostgresConcurrentRemovals(t *testing.T) {
	e := newPostgresEnv(t)
	ctx := context.Background()
	alice, bob := e.identity.add("Alice"), e.identity.add("Bob")
	ws := e.workspace(t, alice)
	e.join(t, ws, bob, models.RoleEditor)

	errs := make([]error, 6)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.workspaces.Remove(ctx, alice, ws.ID, bob)
		}(i)
	}
	wg.Wait()

	removed := 0
	for _, err := range errs {
		if err == nil {
			removed++
			continue
		}
		requireKind(t, err, apperrors.KindNotFound)
	}
	assert.Equal(t, 1, removed)
}

func TestPostgresConcurrentSoftDeletes(t *testing.T) {
	e := newPostgresEnv(t)
	ctx := context.Background()
	alice := e.identity.add("Alice")
	ws := e.workspace(t, alice)
	f, err := e.files.UploadToWorkspace(ctx, alice, ws.ID, "/", textUpload("a.txt", "a"))
	require.NoError(t, err)

	errs := make([]error, 6)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.files.SoftDelete(ctx, alice, f.ID)
		}(i)
	}
	wg.Wait()

	deleted := 0
	for _, err := range errs {
		if err == nil {
			deleted++
			continue
		}
		requireKind(t, err, apperrors.KindConflict)
	}
	assert.Equal(t, 1, deleted)
}
