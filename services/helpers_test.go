package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memBlobs struct {
	mu         sync.Mutex
	data       map[string][]byte
	failDelete bool
	failGet    bool
	seq        int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, r io.Reader, _ int64, _ string) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ref := fmt.Sprintf("blob-%d", b.seq)
	b.data[ref] = body
	return ref, nil
}

func (b *memBlobs) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.data[ref]
	if !ok || b.failGet {
		return nil, errors.New("blob missing")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (b *memBlobs) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDelete {
		return errors.New("disk unavailable")
	}
	delete(b.data, ref)
	return nil
}

func (b *memBlobs) has(ref string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[ref]
	return ok
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

type fakeIdentity struct {
	users map[string]uuid.UUID
	names map[uuid.UUID]Profile
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{users: map[string]uuid.UUID{}, names: map[uuid.UUID]Profile{}}
}

func (f *fakeIdentity) add(name string) uuid.UUID {
	id := uuid.New()
	email := strings.ToLower(name) + "@example.com"
	f.users[email] = id
	f.names[id] = Profile{Name: name, Email: email}
	return id
}

func (f *fakeIdentity) Verify(_ context.Context, credential string) (uuid.UUID, error) {
	id, err := uuid.Parse(credential)
	if err != nil {
		return uuid.Nil, apperrors.Unauthorized("invalid token")
	}
	return id, nil
}

func (f *fakeIdentity) ResolveEmail(_ context.Context, email string) (uuid.UUID, error) {
	id, ok := f.users[email]
	if !ok {
		return uuid.Nil, apperrors.NotFound("no user registered with that email")
	}
	return id, nil
}

func (f *fakeIdentity) Profiles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]Profile, error) {
	out := make(map[uuid.UUID]Profile, len(ids))
	for _, id := range ids {
		out[id] = f.names[id]
	}
	return out, nil
}

// memCache follows the redis cache rules: Set does not overwrite an entry
// or a live tombstone, and Invalidate leaves a tombstone.
type memCache struct {
	mu         sync.Mutex
	clock      *fakeClock
	entries    map[string]models.File
	tombstones map[string]time.Time
	hits       int
}

const memTombstoneTTL = 30 * time.Second

func newMemCache(clock *fakeClock) *memCache {
	return &memCache{clock: clock, entries: map[string]models.File{}, tombstones: map[string]time.Time{}}
}

func (c *memCache) Get(_ context.Context, shareID string) (*models.File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.entries[shareID]
	if !ok {
		return nil, false
	}
	c.hits++
	return &f, true
}

func (c *memCache) Set(_ context.Context, f *models.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.tombstones[f.ShareID]; ok && c.clock.Now().Before(until) {
		return
	}
	if _, ok := c.entries[f.ShareID]; ok {
		return
	}
	c.entries[f.ShareID] = *f
}

func (c *memCache) Invalidate(_ context.Context, shareID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, shareID)
	c.tombstones[shareID] = c.clock.Now().Add(memTombstoneTTL)
}

func (c *memCache) hitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

type env struct {
	db         *gorm.DB
	clock      *fakeClock
	blobs      *memBlobs
	identity   *fakeIdentity
	cache      *memCache
	logs       *test.Hook
	workspaces *WorkspaceService
	files      *FileService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database. One connection
	// also means transactions never interleave: concurrent tests here check
	// outcomes, and postgres_test.go exercises the row locks.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return buildEnv(t, newTestDB(t), false)
}

// newCachedEnv is newEnv with share lookups going through a memCache.
func newCachedEnv(t *testing.T) *env {
	t.Helper()
	return buildEnv(t, newTestDB(t), true)
}

func buildEnv(t *testing.T, db *gorm.DB, cached bool) *env {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	e := &env{
		db:       db,
		clock:    newFakeClock(),
		blobs:    newMemBlobs(),
		identity: newFakeIdentity(),
		logs:     hook,
	}
	opts := Options{
		DB:       e.db,
		Identity: e.identity,
		Blobs:    e.blobs,
		Clock:    e.clock,
		Logger:   log,
	}
	if cached {
		e.cache = newMemCache(e.clock)
		opts.Cache = e.cache
	}
	e.workspaces = NewWorkspaceService(opts)
	e.files = NewFileService(opts)
	return e
}

func (e *env) workspace(t *testing.T, owner uuid.UUID) *models.Workspace {
	t.Helper()
	ws, err := e.workspaces.Create(context.Background(), owner, CreateWorkspaceInput{
		Name:        "Design",
		Description: "Shared assets",
	})
	require.NoError(t, err)
	return ws
}

func (e *env) join(t *testing.T, ws *models.Workspace, user uuid.UUID, role models.Role) {
	t.Helper()
	_, err := e.workspaces.JoinByCode(context.Background(), user, ws.AccessCode)
	require.NoError(t, err)
	if role != models.RoleViewer {
		_, err = e.workspaces.SetRole(context.Background(), ws.OwnerID, ws.ID, user, role)
		require.NoError(t, err)
	}
}

func textUpload(name, body string) Upload {
	return Upload{
		Name:        name,
		ContentType: "text/plain",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func ownerCount(t *testing.T, db *gorm.DB, workspaceID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("workspace_id = ? AND role = ?", workspaceID, models.RoleOwner).
		Count(&n).Error)
	return n
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperrors.KindOf(err), "unexpected error: %v", err)
}
