// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	"gold-accrual-engine/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Archiver writes backup archives to a Cloudflare R2 bucket through the
// S3 API.
type R2Archiver struct {
	client *s3.Client
	bucket string
}

func NewR2Archiver(ctx context.Context, cfg config.BackupConfig) (*R2Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return nil, fmt.Errorf("R2 archive settings are incomplete")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &R2Archiver{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores body under key and returns the object's s3 URI.
func (a *R2Archiver) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
