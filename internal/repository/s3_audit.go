package repository

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appConfig "github.com/tagihanapp/tagihan/internal/config"
)

// S3AuditArchive stores raw gateway payloads in an S3-compatible bucket so
// every charge response and webhook notification stays retrievable after the
// payment row's metadata has been overwritten by later updates.
type S3AuditArchive struct {
	client *s3.Client
	bucket string
}

// NewS3AuditArchive creates the audit archive against any S3-compatible
// endpoint (MinIO, SeaweedFS, AWS)
func NewS3AuditArchive(ctx context.Context, cfg appConfig.S3Config) (*S3AuditArchive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true // Required for many S3-compatible stores
	})

	archive := &S3AuditArchive{
		client: client,
		bucket: cfg.Bucket,
	}

	if err := archive.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return archive, nil
}

// PutPayload archives one raw gateway payload under the provider transaction
// id and a source discriminator ("charge" or "webhook")
func (a *S3AuditArchive) PutPayload(ctx context.Context, providerID, source string, payload []byte) error {
	key := fmt.Sprintf("gateway/%s/%s.json", providerID, source)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive payload to S3: %w", err)
	}
	return nil
}

// ensureBucket checks if bucket exists, creating it if necessary
func (a *S3AuditArchive) ensureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})

	if err != nil {
		_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(a.bucket),
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}
