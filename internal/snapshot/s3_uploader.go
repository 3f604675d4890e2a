package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

// ObjectKey returns the S3 key a snapshot file is stored under.
func ObjectKey(prefix string, snapshotID uuid.UUID) string {
	return path.Join(strings.Trim(prefix, "/"), snapshotID.String()+".duckdb")
}

// Uploader copies snapshot files to S3.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewUploader builds an S3 client from the default AWS credential chain, overridden by
// AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY and cfg's region and endpoint.
func NewUploader(ctx context.Context, cfg chfdw.SnapshotConfig) (*Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, chfdw.NewConfigurationError(chfdw.ErrCodeInvalidConfig, "snapshot.s3Bucket", "bucket is required for upload")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.S3Region))
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")))
	}
	if cfg.S3Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.S3Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3Endpoint != ""
	})
	return &Uploader{client: client, bucket: cfg.S3Bucket, prefix: cfg.S3Prefix}, nil
}

// Upload stores the file at filePath under the snapshot's key and returns that key.
func (u *Uploader) Upload(ctx context.Context, filePath string, snapshotID uuid.UUID) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}

	in, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open snapshot file: %w", err)
	}
	defer in.Close()

	key := ObjectKey(u.prefix, snapshotID)
	_, err = manager.NewUploader(u.client).Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   in,
	})
	if err != nil {
		return "", chfdw.NewFDWError(chfdw.ErrorTypeInternal, chfdw.ErrCodeSnapshotFailed, "s3 upload failed").
			WithCause(err).
			WithDetail("key", key)
	}
	zap.S().Infow("snapshot uploaded", "bucket", u.bucket, "key", key)
	return key, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	if _, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)}); err == nil {
		return nil
	}
	_, err := u.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
	}
	return fmt.Errorf("create bucket: %w", err)
}
