// Package cdn mirrors published key sets to the origin bucket of a CDN.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/logger"
)

// ObjectStore is the part of the S3 client the publisher uses.
// This allows for mocking the AWS SDK client in tests.
// ObjectStore 是发布器使用的 S3 客户端部分，便于在测试中模拟 AWS SDK 客户端。
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Publisher writes each owner's JWKS document to an S3-compatible bucket at
// the same path the HTTP API serves it from, so a CDN can front the bucket.
// S3Publisher 将每个所有者的 JWKS 文档写入兼容 S3 的存储桶，路径与 HTTP API 相同。
type S3Publisher struct {
	client ObjectStore
	bucket string
	prefix string
	maxAge time.Duration
	logger logger.Logger
}

// NewS3Publisher builds the S3 client from cfg. Static credentials are used
// when configured, otherwise the default AWS credential chain.
// NewS3Publisher 根据 cfg 构建 S3 客户端。
func NewS3Publisher(ctx context.Context, cfg config.CDNConfig, log logger.Logger) (*S3Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3PublisherWithClient(client, cfg.Bucket, cfg.KeyPrefix, cfg.MaxAge, log), nil
}

// NewS3PublisherWithClient creates a publisher over a provided client.
// NewS3PublisherWithClient 使用提供的客户端创建发布器。
func NewS3PublisherWithClient(client ObjectStore, bucket, prefix string, maxAge time.Duration, log logger.Logger) *S3Publisher {
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: prefix,
		maxAge: maxAge,
		logger: log.WithComponent("S3JWKSPublisher"),
	}
}

// ObjectKey is the bucket key of owner's document.
func (p *S3Publisher) ObjectKey(owner models.OwnerRef) string {
	return path.Join(p.prefix, JWKSPath(owner))
}

// Publish uploads the document with a public cache lifetime of maxAge.
func (p *S3Publisher) Publish(ctx context.Context, owner models.OwnerRef, jwks *models.JWKS) error {
	body, err := json.Marshal(jwks)
	if err != nil {
		return fmt.Errorf("marshal jwks: %w", err)
	}
	key := p.ObjectKey(owner)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String(fmt.Sprintf("public, max-age=%d", int(p.maxAge.Seconds()))),
	})
	if err != nil {
		p.logger.Error(ctx, "Failed to upload JWKS", err,
			logger.String("bucket", p.bucket), logger.String("key", key))
		return fmt.Errorf("failed to upload jwks: %w", err)
	}
	p.logger.Info(ctx, "Published JWKS",
		logger.String("bucket", p.bucket),
		logger.String("key", key),
		logger.Int("keys", len(jwks.Keys)),
	)
	return nil
}

// Remove deletes the document of owner.
func (p *S3Publisher) Remove(ctx context.Context, owner models.OwnerRef) error {
	key := p.ObjectKey(owner)
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete jwks: %w", err)
	}
	p.logger.Info(ctx, "Removed published JWKS", logger.String("bucket", p.bucket), logger.String("key", key))
	return nil
}

// JWKSPath is the path of owner's document relative to the API root.
func JWKSPath(owner models.OwnerRef) string {
	return path.Join("v1", "owners", string(owner.Kind), owner.ID, "jwks.json")
}
