package storage

import (
	"context"
	"fmt"

	"filevault/internal/server/config"
)

// FromConfig builds and initializes the content store selected by cfg.
func FromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	var store Store
	switch cfg.StorageBackend {
	case config.BackendS3:
		s3Store, err := NewS3Store(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3Store
	case config.BackendFS:
		store = NewFileSystemStore(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageBackend, err)
	}
	return store, nil
}
