package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"client-portal/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// S3Provider stores objects in S3 or an S3-compatible endpoint
type S3Provider struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      config.StorageConfig
	logger   *logrus.Logger
}

// NewS3Provider creates a new S3 provider instance
func NewS3Provider(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (*S3Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
		if cfg.AWS.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Provider{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

func (p *S3Provider) Name() string { return "s3" }

// Upload uploads content to S3
func (p *S3Provider) Upload(ctx context.Context, bucket, path string, content io.Reader, opts UploadOptions) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
		Body:   content,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	if _, err := p.uploader.Upload(ctx, input); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"bucket": bucket,
			"path":   path,
		}).Error("Failed to upload to S3")
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// BucketExists checks if an S3 bucket exists
func (p *S3Provider) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check S3 bucket existence: %w", err)
	}
	return true, nil
}

// CreateBucket creates a new S3 bucket
func (p *S3Provider) CreateBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if p.cfg.AWS.Region != "" && p.cfg.AWS.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.cfg.AWS.Region),
		}
	}
	if _, err := p.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create S3 bucket: %w", err)
	}
	return nil
}

// PublicURL returns the object URL, preferring the configured public base
func (p *S3Provider) PublicURL(bucket, path string) string {
	if p.cfg.PublicBaseURL != "" {
		return joinURL(p.cfg.PublicBaseURL, bucket, path)
	}
	if p.cfg.AWS.Endpoint != "" {
		return joinURL(p.cfg.AWS.Endpoint, bucket, path)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, p.cfg.AWS.Region, path)
}

func (p *S3Provider) Close() error { return nil }
