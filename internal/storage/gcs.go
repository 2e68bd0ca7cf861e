package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"client-portal/internal/config"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GCSProvider stores objects in Google Cloud Storage
type GCSProvider struct {
	client *storage.Client
	cfg    config.StorageConfig
	logger *logrus.Logger
}

// NewGCSProvider creates a new Google Cloud Storage provider instance
func NewGCSProvider(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (*GCSProvider, error) {
	if cfg.GCP.ProjectID == "" {
		return nil, errors.New("GCP project ID is required")
	}

	var opts []option.ClientOption
	if cfg.GCP.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSProvider{client: client, cfg: cfg, logger: logger}, nil
}

func (p *GCSProvider) Name() string { return "gcs" }

// Upload uploads content to Google Cloud Storage
func (p *GCSProvider) Upload(ctx context.Context, bucket, path string, content io.Reader, opts UploadOptions) error {
	writer := p.client.Bucket(bucket).Object(path).NewWriter(ctx)
	writer.ContentType = opts.ContentType
	writer.CacheControl = opts.CacheControl

	if _, err := io.Copy(writer, content); err != nil {
		writer.Close()
		p.logger.WithError(err).WithFields(logrus.Fields{
			"bucket": bucket,
			"path":   path,
		}).Error("Failed to upload to GCS")
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

// BucketExists checks if a GCS bucket exists
func (p *GCSProvider) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if _, err := p.client.Bucket(bucket).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrBucketNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check GCS bucket existence: %w", err)
	}
	return true, nil
}

// CreateBucket creates a new GCS bucket
func (p *GCSProvider) CreateBucket(ctx context.Context, bucket string) error {
	attrs := &storage.BucketAttrs{
		Location: "US",
		UniformBucketLevelAccess: storage.UniformBucketLevelAccess{
			Enabled: true,
		},
	}
	if err := p.client.Bucket(bucket).Create(ctx, p.cfg.GCP.ProjectID, attrs); err != nil {
		return fmt.Errorf("failed to create GCS bucket: %w", err)
	}
	return nil
}

func (p *GCSProvider) PublicURL(bucket, path string) string {
	if p.cfg.PublicBaseURL != "" {
		return joinURL(p.cfg.PublicBaseURL, bucket, path)
	}
	return joinURL("https://storage.googleapis.com", bucket, path)
}

func (p *GCSProvider) Close() error {
	return p.client.Close()
}
