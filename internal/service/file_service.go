package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/storage"
)

// servedPrefixes are the logical trees exposed through the download endpoint.
var servedPrefixes = []string{"Incidents/", "Forms/"}

type fileStore interface {
	Download(ctx context.Context, logicalPath string) ([]byte, error)
	Exists(ctx context.Context, logicalPath string) (bool, error)
	PresignedURL(ctx context.Context, logicalPath string, ttl time.Duration) (string, error)
	Backend() string
}

// FileService streams stored attachments, photos, signatures and PDFs to authenticated users.
type FileService struct {
	store      fileStore
	presignTTL time.Duration
	logger     *zap.Logger
}

// NewFileService constructs a FileService.
func NewFileService(store fileStore, presignTTL time.Duration, logger *zap.Logger) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &FileService{store: store, presignTTL: presignTTL, logger: logger}
}

// Fetch loads the object at the logical path.
func (s *FileService) Fetch(ctx context.Context, claims *models.JWTClaims, logicalPath string) (*dto.FileResult, error) {
	cleaned, err := s.authorize(claims, logicalPath)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Download(ctx, cleaned)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		s.logger.Warn("file download failed", zap.String("path", cleaned), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to read file")
	}
	return &dto.FileResult{
		Filename:    path.Base(cleaned),
		ContentType: storage.ContentTypeFor(cleaned),
		Data:        data,
	}, nil
}

// Presign returns a time-limited direct URL when the S3 backend is active. On the local backend
// ok is false and callers serve the file through Fetch instead.
func (s *FileService) Presign(ctx context.Context, claims *models.JWTClaims, logicalPath string) (*dto.SignedLinkResponse, bool, error) {
	cleaned, err := s.authorize(claims, logicalPath)
	if err != nil {
		return nil, false, err
	}
	if s.store.Backend() != storage.BackendS3 {
		return nil, false, nil
	}
	exists, err := s.store.Exists(ctx, cleaned)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to check file")
	}
	if !exists {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	url, err := s.store.PresignedURL(ctx, cleaned, s.presignTTL)
	if err != nil {
		s.logger.Warn("presign failed", zap.String("path", cleaned), zap.Error(err))
		return nil, false, nil
	}
	return &dto.SignedLinkResponse{URL: url, ExpiresAt: time.Now().Add(s.presignTTL)}, true, nil
}

func (s *FileService) authorize(claims *models.JWTClaims, logicalPath string) (string, error) {
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	cleaned, err := storage.CleanPath(logicalPath)
	if err != nil {
		return "", appErrors.FieldError("path", "invalid file path")
	}
	for _, prefix := range servedPrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			return cleaned, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrForbidden, "file is outside the served folders")
}
