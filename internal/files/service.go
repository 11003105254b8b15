// Package files stores chat attachments in S3-compatible object storage
// and hands out short-lived download links.
package files

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAttachmentSize caps chat uploads at 20 MiB.
const MaxAttachmentSize = 20 << 20

// PresignTTL is how long download links stay valid.
const PresignTTL = 15 * time.Minute

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service wraps the object storage client for attachment blobs.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService creates the storage client. It does not touch the network;
// call EnsureBucket at startup to verify connectivity.
func NewService(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the attachment bucket when it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload stores one attachment under key. size must be the exact byte
// count of the reader.
func (s *Service) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if size > MaxAttachmentSize {
		return fmt.Errorf("attachment exceeds %d bytes", int64(MaxAttachmentSize))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("store attachment: %w", err)
	}
	return nil
}

// PresignedURL returns a download link valid for PresignTTL. filename sets
// the browser's save-as name.
func (s *Service) PresignedURL(ctx context.Context, key, filename string) (string, error) {
	params := make(url.Values)
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, PresignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return u.String(), nil
}

// Remove deletes one attachment blob.
func (s *Service) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}
