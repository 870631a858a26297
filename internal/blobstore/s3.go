// Package blobstore persists meal images in object storage.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store puts and fetches image blobs by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint (MinIO, localstack). Path-style
	// addressing is used when set.
	Endpoint string `yaml:"endpoint"`
	// PublicBaseURL is prepended to keys to build returned URLs, e.g. a
	// CloudFront distribution. Defaults to the bucket's virtual-host URL.
	PublicBaseURL string `yaml:"public_base_url"`
	Prefix        string `yaml:"prefix"`
	// MaxBytes bounds how much of an object Get reads.
	MaxBytes int64 `yaml:"max_bytes"`
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("blobstore: bucket is required")
	}
	return nil
}

type S3Store struct {
	client S3API
	cfg    Config
}

// NewS3Store loads the default AWS credential chain and builds a store.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	return NewS3StoreWithClient(client, cfg), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, cfg Config) *S3Store {
	return &S3Store{client: client, cfg: cfg}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	full := s.objectKey(key)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put %s: %w", full, err)
	}
	return s.URL(key), nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, "", err
	}
	full := s.objectKey(key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("blobstore: get %s: %w", full, err)
	}
	defer out.Body.Close()

	var r io.Reader = out.Body
	if s.cfg.MaxBytes > 0 {
		// One byte past the ceiling so the validator can see the overflow.
		r = io.LimitReader(out.Body, s.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: read %s: %w", full, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// URL returns the public URL of key.
func (s *S3Store) URL(key string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		region := s.cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, region)
	}
	return base + "/" + s.objectKey(key)
}

func (s *S3Store) objectKey(key string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// CleanKey trims slashes and rejects empty or traversing keys.
func CleanKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}

// ImageKey names the object for an image by its content hash.
func ImageKey(hash, contentType string) string {
	ext := ""
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	case "image/heic":
		ext = ".heic"
	}
	return "meals/" + hash + ext
}
