package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/pkg/config"
)

// ErrNotFound is returned by Download and Open when no object exists at the logical path.
var ErrNotFound = errors.New("object not found")

// ErrInvalidPath rejects logical paths that escape the storage root.
var ErrInvalidPath = errors.New("invalid logical path")

const (
	BackendS3    = "s3"
	BackendLocal = "local"
)

// ObjectStore addresses files by "/"-delimited logical paths such as "Incidents/1700000000_0.jpg"
// or "Forms/signatures/3_12_20240101_101010.png". Both backends share the same path semantics.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, logicalPath, contentType string) error
	UploadStream(ctx context.Context, r io.Reader, size int64, logicalPath, contentType string) error
	Download(ctx context.Context, logicalPath string) ([]byte, error)
	Exists(ctx context.Context, logicalPath string) (bool, error)
	Delete(ctx context.Context, logicalPath string) error
	DownloadToTemp(ctx context.Context, logicalPath string) (string, error)
	PresignedURL(ctx context.Context, logicalPath string, ttl time.Duration) (string, error)
	Backend() string
}

// New picks the S3-compatible backend when usable credentials are configured and falls back to
// the local uploads tree otherwise.
func New(cfg config.StorageConfig, logger *zap.Logger) (ObjectStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reason := unusableCredentials(cfg); reason != "" {
		logger.Warn("object storage not configured, using local filesystem",
			zap.String("reason", reason), zap.String("dir", cfg.LocalDir))
		return NewLocalStorage(cfg.LocalDir, cfg.TempDir)
	}

	store, err := NewS3Storage(cfg)
	if err != nil {
		logger.Warn("object storage client failed, using local filesystem", zap.Error(err))
		return NewLocalStorage(cfg.LocalDir, cfg.TempDir)
	}
	logger.Info("object storage ready", zap.String("bucket", cfg.Bucket), zap.String("endpoint", cfg.EndpointURL))
	return store, nil
}

var placeholderMarkers = []string{"tu_", "your_", "xxx", "changeme", "placeholder", "example"}

func unusableCredentials(cfg config.StorageConfig) string {
	access := strings.TrimSpace(cfg.AccessKeyID)
	secret := strings.TrimSpace(cfg.SecretAccessKey)
	switch {
	case strings.TrimSpace(cfg.EndpointURL) == "":
		return "endpoint missing"
	case access == "" || secret == "":
		return "credentials missing"
	case looksLikePlaceholder(access) || looksLikePlaceholder(secret):
		return "credentials look like placeholders"
	case len(access) < 10:
		return "access key too short"
	case len(secret) < 20:
		return "secret key too short"
	}
	return ""
}

func looksLikePlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CleanPath normalises a logical path and rejects attempts to leave the storage root.
func CleanPath(logicalPath string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(logicalPath, "\\", "/"))
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean("/" + trimmed)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// ContentTypeFor guesses a MIME type from the logical path extension.
func ContentTypeFor(logicalPath string) string {
	ext := strings.ToLower(path.Ext(logicalPath))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
