package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type sequenceRepository interface {
	List(ctx context.Context) ([]models.SequenceIndex, error)
	FindByID(ctx context.Context, id int64) (*models.SequenceIndex, error)
	Create(ctx context.Context, item *models.SequenceIndex) error
	Update(ctx context.Context, item *models.SequenceIndex) error
	Delete(ctx context.Context, id int64) error
	CountCodes(ctx context.Context, pattern string) (int, error)
	Next(ctx context.Context, id int64) (*models.SequenceIndex, error)
}

// SequenceIndexView adds the code the next incident would receive.
type SequenceIndexView struct {
	models.SequenceIndex
	NextCode string `json:"next_code"`
}

// SequenceService manages the prefixes incident codes are minted from.
type SequenceService struct {
	repo      sequenceRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSequenceService constructs a SequenceService.
func NewSequenceService(repo sequenceRepository, validate *validator.Validate, logger *zap.Logger) *SequenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SequenceService{repo: repo, validator: validate, logger: logger}
}

// List returns every index with its next code preview.
func (s *SequenceService) List(ctx context.Context) ([]SequenceIndexView, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list indices")
	}
	views := make([]SequenceIndexView, 0, len(items))
	for _, item := range items {
		views = append(views, SequenceIndexView{SequenceIndex: item, NextCode: item.NextPreview()})
	}
	return views, nil
}

// Create registers a prefix with its counter at zero.
func (s *SequenceService) Create(ctx context.Context, req dto.SequenceIndexRequest) (*SequenceIndexView, error) {
	prefix, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	item := &models.SequenceIndex{Prefix: prefix, Width: req.Width}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, persistenceError(err, "index not found", "failed to create index")
	}
	s.logger.Info("sequence index created", zap.String("prefix", item.Prefix), zap.Int64("index_id", item.ID))
	return &SequenceIndexView{SequenceIndex: *item, NextCode: item.NextPreview()}, nil
}

// Update renames the prefix or changes the padding width. The counter is kept.
func (s *SequenceService) Update(ctx context.Context, id int64, req dto.SequenceIndexRequest) (*SequenceIndexView, error) {
	prefix, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "index not found", "failed to load index")
	}
	item.Prefix = prefix
	if req.Width > 0 {
		item.Width = req.Width
	}
	if err := s.repo.Update(ctx, item); err != nil {
		return nil, persistenceError(err, "index not found", "failed to update index")
	}
	return &SequenceIndexView{SequenceIndex: *item, NextCode: item.NextPreview()}, nil
}

// Delete removes an index no incident code was minted from.
func (s *SequenceService) Delete(ctx context.Context, id int64) error {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return persistenceError(err, "index not found", "failed to load index")
	}
	used, err := s.repo.CountCodes(ctx, item.CodePattern())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count incident codes")
	}
	if used > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "index is used by existing incidents")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return persistenceError(err, "index not found", "failed to delete index")
	}
	return nil
}

// Next mints the next code of an index outside incident creation.
func (s *SequenceService) Next(ctx context.Context, id int64) (string, error) {
	item, err := s.repo.Next(ctx, id)
	if err != nil {
		return "", persistenceError(err, "index not found", "failed to advance index")
	}
	return item.Format(item.Counter), nil
}

func (s *SequenceService) validate(req dto.SequenceIndexRequest) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", validationError(err, "invalid index payload")
	}
	prefix := models.NormalizePrefix(req.Prefix)
	if prefix == "" {
		return "", appErrors.FieldError("prefix", "prefix is required")
	}
	if strings.ContainsAny(prefix, " %\\") {
		return "", appErrors.FieldError("prefix", "prefix must not contain spaces, % or \\")
	}
	return prefix, nil
}
