// Package s3 stores uploads in an S3-compatible bucket through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// TempDir receives objects materialized for extractors. Empty uses os.TempDir.
	TempDir string
}

type Storage struct {
	client  *minio.Client
	bucket  string
	region  string
	tempDir string
}

func New(cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "init object storage", errors.New("bucket is required"))
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, region: cfg.Region, tempDir: cfg.TempDir}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	if _, err := s.client.PutObject(ctx, s.bucket, key, data, -1, minio.PutObjectOptions{}); err != nil {
		return domain.WrapError(domain.ErrTemporary, "upload object", err)
	}
	return nil
}

// LocalPath downloads the object into a temp file; release removes it.
func (s *Storage) LocalPath(ctx context.Context, key string) (string, func(), error) {
	f, err := os.CreateTemp(s.tempDir, "docpipe-*-"+sanitizeSuffix(key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	release := func() { _ = os.Remove(path) }

	if err := s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		release()
		return "", nil, classify("download object", err)
	}
	return path, release, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return classify("delete object", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("delete object", err)
	}
	return nil
}

func classify(operation string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return domain.WrapError(domain.ErrFileNotFound, operation, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return domain.WrapError(domain.ErrConfiguration, operation, err)
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}

// sanitizeSuffix keeps the extension visible to tools that sniff by name.
func sanitizeSuffix(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[len(out)-64:]
	}
	return string(out)
}
