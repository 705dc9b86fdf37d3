// Package services implements the workspace membership registry and the
// file lifecycle manager. Every read-modify-write on a workspace or a file
// runs in a single transaction that row-locks the aggregate first.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/permission"
)

// DefaultAnonymousTTL is how long an anonymous upload stays reachable.
const DefaultAnonymousTTL = 24 * time.Hour

// IdentityProvider verifies credentials and resolves users. Implementations
// return apperrors kinds (Unauthorized, NotFound).
type IdentityProvider interface {
	Verify(ctx context.Context, credential string) (uuid.UUID, error)
	ResolveEmail(ctx context.Context, email string) (uuid.UUID, error)
	Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Profile, error)
}

type Profile struct {
	Name  string
	Email string
}

// BlobStore holds file bytes. The services keep only the returned reference.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// ShareCache is an optional read-through cache for share lookups. Set must
// not replace what Invalidate wrote for a while afterwards, otherwise a
// lookup that read the row before a delete could cache it after.
type ShareCache interface {
	Get(ctx context.Context, shareID string) (*models.File, bool)
	Set(ctx context.Context, f *models.File)
	Invalidate(ctx context.Context, shareID string)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type Options struct {
	DB           *gorm.DB
	Identity     IdentityProvider
	Blobs        BlobStore
	Cache        ShareCache
	Clock        Clock
	Logger       logrus.FieldLogger
	AnonymousTTL time.Duration
}

type core struct {
	db           *gorm.DB
	identity     IdentityProvider
	blobs        BlobStore
	cache        ShareCache
	clock        Clock
	log          logrus.FieldLogger
	anonymousTTL time.Duration
}

func newCore(opts Options) *core {
	c := &core{
		db:           opts.DB,
		identity:     opts.Identity,
		blobs:        opts.Blobs,
		cache:        opts.Cache,
		clock:        opts.Clock,
		log:          opts.Logger,
		anonymousTTL: opts.AnonymousTTL,
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = l
	}
	if c.anonymousTTL <= 0 {
		c.anonymousTTL = DefaultAnonymousTTL
	}
	return c
}

func (c *core) now() time.Time {
	return c.clock.Now().UTC()
}

func (c *core) invalidateShare(ctx context.Context, shareID string) {
	if c.cache != nil {
		c.cache.Invalidate(ctx, shareID)
	}
}

// releaseBlobs deletes blobs after their metadata is gone. Failures are
// logged and returned but never undo the metadata change.
func (c *core) releaseBlobs(ctx context.Context, refs ...string) error {
	var errs []error
	for _, ref := range refs {
		if err := c.blobs.Delete(ctx, ref); err != nil {
			c.log.WithError(err).WithField("blob_ref", ref).Warn("failed to delete blob")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.Storage(errors.Join(errs...), "failed to delete %d of %d blobs", len(errs), len(refs))
	}
	return nil
}

func lockWorkspace(tx *gorm.DB, id uuid.UUID) (*models.Workspace, error) {
	var ws models.Workspace
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ws, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("workspace not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return &ws, nil
}

func findWorkspace(tx *gorm.DB, id uuid.UUID) (*models.Workspace, error) {
	var ws models.Workspace
	err := tx.First(&ws, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("workspace not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return &ws, nil
}

func lockFile(tx *gorm.DB, id uuid.UUID) (*models.File, error) {
	var f models.File
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	return &f, nil
}

func findFile(tx *gorm.DB, id uuid.UUID) (*models.File, error) {
	var f models.File
	err := tx.First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	return &f, nil
}

// memberRole returns the user's role in the workspace, or "" when the user
// is not a member.
func memberRole(tx *gorm.DB, workspaceID, userID uuid.UUID) (models.Role, error) {
	var m models.Membership
	err := tx.Where("workspace_id = ? AND user_id = ?", workspaceID, userID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load membership: %w", err)
	}
	return m.Role, nil
}

func loadMembers(tx *gorm.DB, ws *models.Workspace) error {
	var members []models.Membership
	if err := tx.Where("workspace_id = ?", ws.ID).Order("joined_at, id").Find(&members).Error; err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	ws.Members = members
	return nil
}

// authorize checks action against the actor's role in ws. Non-members of a
// public workspace may only read.
func authorize(tx *gorm.DB, ws *models.Workspace, actor *uuid.UUID, action permission.Action) (models.Role, error) {
	var role models.Role
	if actor != nil {
		r, err := memberRole(tx, ws.ID, *actor)
		if err != nil {
			return "", err
		}
		role = r
	}

	if role != "" {
		if permission.Allows(role, action) {
			return role, nil
		}
		return role, apperrors.Forbidden("%s role cannot %s", role, action)
	}

	if ws.IsPublic && permission.ReadOnly(action) {
		return "", nil
	}
	if actor == nil {
		return "", apperrors.Unauthorized("authentication required")
	}
	return "", apperrors.Forbidden("not a member of this workspace")
}

// authorizeFile checks action on f. Workspace files defer to the workspace
// role; the uploader of a personal file acts as its owner.
func authorizeFile(tx *gorm.DB, f *models.File, actor *uuid.UUID, action permission.Action) error {
	if f.WorkspaceID != nil {
		ws, err := findWorkspace(tx, *f.WorkspaceID)
		if err != nil {
			return err
		}
		_, err = authorize(tx, ws, actor, action)
		return err
	}

	if actor != nil && f.UploaderID != nil && *f.UploaderID == *actor {
		if permission.Allows(models.RoleOwner, action) {
			return nil
		}
	}
	if actor == nil {
		return apperrors.Unauthorized("authentication required")
	}
	return apperrors.Forbidden("not authorized to %s", action)
}
