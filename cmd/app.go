package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/basit/fileshare-workspaces/auth"
	"github.com/basit/fileshare-workspaces/cache"
	"github.com/basit/fileshare-workspaces/initializers"
	"github.com/basit/fileshare-workspaces/services"
	"github.com/basit/fileshare-workspaces/storage"
)

// app holds the wired dependencies shared by serve and reap.
type app struct {
	db         *gorm.DB
	redis      *redis.Client
	users      *auth.Provider
	workspaces *services.WorkspaceService
	files      *services.FileService
}

func buildApp(ctx context.Context, cfg *initializers.Config, log *logrus.Logger) (*app, error) {
	db, err := initializers.ConnectToDatabase(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.redis, err = initializers.NewRedisClient(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL, cfg.RefreshTTL)
	a.users = auth.NewProvider(db, tokens, log)

	opts := services.Options{
		DB:           db,
		Identity:     a.users,
		Blobs:        blobs,
		Logger:       log,
		AnonymousTTL: cfg.AnonymousTTL,
	}
	if a.redis != nil {
		opts.Cache = cache.NewShareCache(a.redis, "share:", cfg.ShareCacheTTL, log)
		log.Info("share cache enabled")
	}
	a.workspaces = services.NewWorkspaceService(opts)
	a.files = services.NewFileService(opts)
	return a, nil
}

func newBlobStore(ctx context.Context, cfg *initializers.Config) (services.BlobStore, error) {
	switch cfg.StorageProvider {
	case "s3":
		client, err := initializers.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, cfg.AWSBucket, cfg.S3Prefix), nil
	case "disk":
		disk, err := storage.NewDisk(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		return disk, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
	}
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
