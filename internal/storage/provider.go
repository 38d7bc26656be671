// Package storage selects and constructs the blob store backend that holds
// translated chapter bodies. The concrete implementations live in the local,
// gcs, and memory subpackages; callers program against novel.BlobStore so the
// pipeline is independent of where chapter files actually end up.
package storage

import (
	"context"
	"fmt"

	gcsapi "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/config"
	"github.com/chaptermill/chaptermill/internal/novel"
	"github.com/chaptermill/chaptermill/internal/storage/gcs"
	"github.com/chaptermill/chaptermill/internal/storage/local"
	"github.com/chaptermill/chaptermill/internal/storage/memory"
)

// New builds the blob store named by cfg.Backend. The returned cleanup
// function releases any backend resources (for GCS, the API client) and is
// safe to call even on partial failure paths.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (novel.BlobStore, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("create local blob store: %w", err)
		}
		logger.Info("blob storage ready", zap.String("backend", "local"), zap.String("base_dir", cfg.Local.BaseDir))
		return store, noop, nil

	case "memory":
		logger.Info("blob storage ready", zap.String("backend", "memory"))
		return memory.New(), noop, nil

	case "gcs":
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		cleanup := func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("failed to close gcs client", zap.Error(closeErr))
			}
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("create gcs blob store: %w", err)
		}
		logger.Info("blob storage ready", zap.String("backend", "gcs"), zap.String("bucket", cfg.Bucket))
		return store, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
