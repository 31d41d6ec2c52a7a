// Package storage uploads and reads objects in a single configured bucket on
// GCS, MinIO or S3. It backs the backup command.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/otpgate/apiserver/config"
)

// ObjectStorage is implemented by each bucket backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Open returns the backend selected by cfg.Backup.Backend.
func Open(ctx context.Context, cfg config.Config) (ObjectStorage, error) {
	switch cfg.Backup.Backend {
	case config.BackupGCS:
		return NewGCSClient(ctx, cfg.GCS)
	case config.BackupMinio:
		return NewMinioClient(cfg.Minio)
	case config.BackupS3:
		return NewS3Client(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown backup backend %q", cfg.Backup.Backend)
	}
}
