package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider keeps objects on disk under basePath/<bucket>. It backs development setups
// where the router serves basePath statically.
type LocalProvider struct {
	basePath      string
	publicBaseURL string
}

func NewLocalProvider(basePath, publicBaseURL string) *LocalProvider {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if publicBaseURL == "" {
		publicBaseURL = "/storage"
	}
	return &LocalProvider{basePath: basePath, publicBaseURL: publicBaseURL}
}

func (p *LocalProvider) Name() string { return "local" }

// BasePath is the directory holding all buckets
func (p *LocalProvider) BasePath() string { return p.basePath }

func (p *LocalProvider) objectPath(bucket, path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return filepath.Join(p.basePath, bucket, clean), nil
}

func (p *LocalProvider) Upload(ctx context.Context, bucket, path string, content io.Reader, _ UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := p.objectPath(bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store object: %w", err)
	}
	return nil
}

func (p *LocalProvider) BucketExists(_ context.Context, bucket string) (bool, error) {
	info, err := os.Stat(filepath.Join(p.basePath, bucket))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (p *LocalProvider) CreateBucket(_ context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(p.basePath, bucket), 0o755)
}

func (p *LocalProvider) PublicURL(bucket, path string) string {
	return joinURL(p.publicBaseURL, bucket, path)
}

func (p *LocalProvider) Close() error { return nil }
