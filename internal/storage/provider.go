package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"client-portal/internal/config"

	"github.com/sirupsen/logrus"
)

// ErrBucketMissing means a required bucket has not been provisioned
var ErrBucketMissing = errors.New("storage bucket does not exist")

// UploadOptions carries object headers
type UploadOptions struct {
	ContentType  string
	CacheControl string
}

// Provider is an object store holding public files such as avatars
type Provider interface {
	Name() string
	// Upload writes or overwrites the object at path
	Upload(ctx context.Context, bucket, path string, content io.Reader, opts UploadOptions) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
	PublicURL(bucket, path string) string
	Close() error
}

// NewProvider builds the provider selected by cfg.Provider
func NewProvider(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (Provider, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Provider(ctx, cfg, logger)
	case "gcs":
		return NewGCSProvider(ctx, cfg, logger)
	case "local", "":
		return NewLocalProvider(cfg.LocalBasePath, cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// EnsureBucket checks once that bucket exists. It never creates it.
func EnsureBucket(ctx context.Context, p Provider, bucket string) error {
	exists, err := p.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s on %s: %w", bucket, p.Name(), err)
	}
	if !exists {
		return fmt.Errorf("%w: %s on %s", ErrBucketMissing, bucket, p.Name())
	}
	return nil
}

// CreateBucketIfMissing creates bucket unless it already exists. It reports whether it created it.
func CreateBucketIfMissing(ctx context.Context, p Provider, bucket string) (bool, error) {
	exists, err := p.BucketExists(ctx, bucket)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := p.CreateBucket(ctx, bucket); err != nil {
		return false, err
	}
	return true, nil
}

func joinURL(base, bucket, path string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(path, "/")
}
