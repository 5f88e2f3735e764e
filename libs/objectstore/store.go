package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/northpeak/studio/libs/config"
)

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("objectstore: bucket not configured")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type Store struct {
	bucket        string
	client        S3API
	presign       *s3.PresignClient
	publicBaseURL string
	logger        *slog.Logger
}

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

func ConfigFromEnv() Config {
	return Config{
		Bucket:          config.String("S3_BUCKET", ""),
		Region:          config.String("S3_REGION", "us-east-1"),
		Endpoint:        config.String("S3_ENDPOINT", ""),
		AccessKeyID:     config.String("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: config.String("S3_SECRET_ACCESS_KEY", ""),
		PublicBaseURL:   config.String("OBJECT_PUBLIC_BASE_URL", ""),
	}
}

// Open builds an S3 client. A custom endpoint (MinIO, R2, Supabase storage) switches
// to path-style addressing.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return NewStore(nil, nil, "", cfg.PublicBaseURL, logger), nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewStore(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PublicBaseURL, logger), nil
}

// NewStore wraps an S3 client. An empty bucket disables every operation.
func NewStore(client S3API, presign *s3.PresignClient, bucket, publicBaseURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		bucket:        bucket,
		client:        client,
		presign:       presign,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

func (s *Store) Put(ctx context.Context, key, contentType string, body []byte) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	s.logger.Info("object stored", "key", key, "bytes", len(body))
	return nil
}

// PresignGet returns a time limited download URL for key.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !s.Enabled() || s.presign == nil {
		return "", ErrDisabled
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// PublicURL joins key onto the public base URL, or returns "" when none is set.
func (s *Store) PublicURL(key string) string {
	if s == nil || s.publicBaseURL == "" || key == "" {
		return ""
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.publicBaseURL + "/" + strings.Join(parts, "/")
}

func (s *Store) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if !s.Enabled() {
			return ErrDisabled
		}
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return err
	}
}
