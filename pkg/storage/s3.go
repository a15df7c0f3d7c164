package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/CristianBACSCol/ERP-BACS/pkg/config"
)

// S3Storage stores objects in an S3-compatible bucket (Cloudflare R2, MinIO) with path-style
// addressing.
type S3Storage struct {
	client  *minio.Client
	bucket  string
	tempDir string
}

// NewS3Storage builds a client for the configured endpoint.
func NewS3Storage(cfg config.StorageConfig) (*S3Storage, error) {
	host, secure, err := parseEndpoint(cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "erp-bacs")
	}
	return &S3Storage{client: client, bucket: cfg.Bucket, tempDir: tempDir}, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint required")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", raw)
	}
	return u.Host, u.Scheme != "http", nil
}

// Backend identifies the storage implementation.
func (s *S3Storage) Backend() string {
	return BackendS3
}

// Upload puts the object and confirms it with a HEAD request.
func (s *S3Storage) Upload(ctx context.Context, data []byte, logicalPath, contentType string) error {
	return s.UploadStream(ctx, bytes.NewReader(data), int64(len(data)), logicalPath, contentType)
}

// UploadStream puts an object of known (or -1 for unknown) size.
func (s *S3Storage) UploadStream(ctx context.Context, r io.Reader, size int64, logicalPath, contentType string) error {
	key, err := CleanPath(logicalPath)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return fmt.Errorf("verify object %s: %w", key, err)
	}
	return nil
}

// Download reads the whole object, returning ErrNotFound for a missing key.
func (s *S3Storage) Download(ctx context.Context, logicalPath string) ([]byte, error) {
	key, err := CleanPath(logicalPath)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(key, err)
	}
	defer obj.Close() //nolint:errcheck
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(key, err)
	}
	return data, nil
}

// Exists issues a HEAD request for the key.
func (s *S3Storage) Exists(ctx context.Context, logicalPath string) (bool, error) {
	key, err := CleanPath(logicalPath)
	if err != nil {
		return false, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object; deleting a missing key is not an error.
func (s *S3Storage) Delete(ctx context.Context, logicalPath string) error {
	key, err := CleanPath(logicalPath)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isMissing(err) {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// DownloadToTemp copies the object into the temp directory and returns the local path.
func (s *S3Storage) DownloadToTemp(ctx context.Context, logicalPath string) (string, error) {
	data, err := s.Download(ctx, logicalPath)
	if err != nil {
		return "", err
	}
	return writeTemp(s.tempDir, logicalPath, data)
}

// PresignedURL returns a time-limited GET URL for the object.
func (s *S3Storage) PresignedURL(ctx context.Context, logicalPath string, ttl time.Duration) (string, error) {
	key, err := CleanPath(logicalPath)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// TempDir exposes the directory used by DownloadToTemp.
func (s *S3Storage) TempDir() string {
	return s.tempDir
}

func (s *S3Storage) translate(key string, err error) error {
	if isMissing(err) {
		return ErrNotFound
	}
	return fmt.Errorf("get object %s: %w", key, err)
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == 404
}
