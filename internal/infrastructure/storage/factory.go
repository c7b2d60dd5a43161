package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewImageStore creates the image store selected by cfg.Driver
func NewImageStore(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (journal.ImageStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "s3":
		store, err := NewS3ImageStore(cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("using S3 image store", zap.String("bucket", store.Bucket()))
		return store, nil
	case "local", "":
		logger.Info("using local image store", zap.String("path", cfg.LocalPath))
		return NewLocalImageStore(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
