// Package cache keeps resolved share links in redis so public share
// traffic does not hit the database on every request.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/basit/fileshare-workspaces/models"
)

const DefaultShareTTL = 5 * time.Minute

// TombstoneTTL is how long an invalidated share blocks re-caching. It must
// outlast a database read in ResolveShare.
const TombstoneTTL = 30 * time.Second

var tombstone = []byte("-")

type ShareCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewShareCache(client *redis.Client, prefix string, ttl time.Duration, log logrus.FieldLogger) *ShareCache {
	if ttl <= 0 {
		ttl = DefaultShareTTL
	}
	return &ShareCache{client: client, prefix: prefix, ttl: ttl, log: log}
}

// entry mirrors models.File including the blob reference, which the model
// hides from JSON responses.
type entry struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	ContentType      string     `json:"type"`
	Size             int64      `json:"size"`
	BlobRef          string     `json:"blobRef"`
	IsAnonymous      bool       `json:"isAnonymous"`
	WorkspaceID      *uuid.UUID `json:"workspaceId,omitempty"`
	Folder           string     `json:"folder"`
	UploaderID       *uuid.UUID `json:"uploaderId,omitempty"`
	ShareID          string     `json:"shareId"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	UploadedAt       time.Time  `json:"uploadedAt"`
	ContentUpdatedAt time.Time  `json:"contentUpdatedAt"`
}

func (c *ShareCache) key(shareID string) string {
	return c.prefix + shareID
}

// Get returns the cached file for shareID. Redis errors and tombstones
// count as a miss.
func (c *ShareCache) Get(ctx context.Context, shareID string) (*models.File, bool) {
	data, err := c.client.Get(ctx, c.key(shareID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("share cache read failed")
		}
		return nil, false
	}
	if bytes.Equal(data, tombstone) {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.log.WithError(err).Warn("share cache entry is corrupt")
		c.Invalidate(ctx, shareID)
		return nil, false
	}
	return &models.File{
		ID:               e.ID,
		Name:             e.Name,
		ContentType:      e.ContentType,
		Size:             e.Size,
		BlobRef:          e.BlobRef,
		IsAnonymous:      e.IsAnonymous,
		WorkspaceID:      e.WorkspaceID,
		Folder:           e.Folder,
		UploaderID:       e.UploaderID,
		ShareID:          e.ShareID,
		ExpiresAt:        e.ExpiresAt,
		UploadedAt:       e.UploadedAt,
		ContentUpdatedAt: e.ContentUpdatedAt,
	}, true
}

func (c *ShareCache) Set(ctx context.Context, f *models.File) {
	data, err := json.Marshal(entry{
		ID:               f.ID,
		Name:             f.Name,
		ContentType:      f.ContentType,
		Size:             f.Size,
		BlobRef:          f.BlobRef,
		IsAnonymous:      f.IsAnonymous,
		WorkspaceID:      f.WorkspaceID,
		Folder:           f.Folder,
		UploaderID:       f.UploaderID,
		ShareID:          f.ShareID,
		ExpiresAt:        f.ExpiresAt,
		UploadedAt:       f.UploadedAt,
		ContentUpdatedAt: f.ContentUpdatedAt,
	})
	if err != nil {
		c.log.WithError(err).Warn("share cache encode failed")
		return
	}
	// NX keeps a tombstone written by a concurrent Invalidate in place, so a
	// snapshot read before a delete cannot be cached after it.
	if err := c.client.SetNX(ctx, c.key(f.ShareID), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("share cache write failed")
	}
}

// Invalidate replaces any cached entry with a short-lived tombstone.
func (c *ShareCache) Invalidate(ctx context.Context, shareID string) {
	if err := c.client.Set(ctx, c.key(shareID), tombstone, TombstoneTTL).Err(); err != nil {
		c.log.WithError(err).Warn("share cache invalidate failed")
	}
}
