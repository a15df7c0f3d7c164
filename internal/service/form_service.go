package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type formRepository interface {
	ListTemplates(ctx context.Context, activeOnly bool) ([]models.FormTemplate, error)
	FindTemplate(ctx context.Context, id int64) (*models.FormTemplate, error)
	ListFields(ctx context.Context, templateID int64) ([]models.FormField, error)
	CreateTemplate(ctx context.Context, tpl *models.FormTemplate) error
	UpdateTemplate(ctx context.Context, tpl *models.FormTemplate) error
	DeactivateTemplate(ctx context.Context, id int64) error
	CountResponses(ctx context.Context, templateID int64) (int, error)
	FindField(ctx context.Context, id int64) (*models.FormField, error)
	NextPosition(ctx context.Context, templateID int64) (int, error)
	CreateField(ctx context.Context, field *models.FormField) error
	UpdateField(ctx context.Context, field *models.FormField) error
	DeleteField(ctx context.Context, id int64) error
	CountFieldAnswers(ctx context.Context, fieldID int64) (int, error)
}

// FormServiceConfig bounds template size.
type FormServiceConfig struct {
	MaxFields int
}

// FormService manages form templates and their ordered fields.
type FormService struct {
	repo      formRepository
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FormServiceConfig
}

// NewFormService constructs a FormService.
func NewFormService(repo formRepository, validate *validator.Validate, logger *zap.Logger, cfg FormServiceConfig) *FormService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxFields <= 0 {
		cfg.MaxFields = 100
	}
	return &FormService{repo: repo, validator: validate, logger: logger, cfg: cfg}
}

// ListTemplates returns active templates ordered by name. Administrators may include inactive ones.
func (s *FormService) ListTemplates(ctx context.Context, claims *models.JWTClaims, includeInactive bool) ([]models.FormTemplate, error) {
	activeOnly := !(includeInactive && claims.IsAdmin())
	templates, err := s.repo.ListTemplates(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list forms")
	}
	return templates, nil
}

// GetTemplate returns a template with its fields in order. Inactive templates are hidden from
// everyone but administrators.
func (s *FormService) GetTemplate(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FormTemplate, error) {
	tpl, err := s.repo.FindTemplate(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "form not found", "failed to load form")
	}
	if !tpl.Active && !claims.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}
	fields, err := s.repo.ListFields(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form fields")
	}
	tpl.Fields = fields
	tpl.FieldCount = len(fields)
	return tpl, nil
}

// CreateTemplate stores a template and its initial fields.
func (s *FormService) CreateTemplate(ctx context.Context, claims *models.JWTClaims, req dto.FormTemplateRequest) (*models.FormTemplate, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid form payload")
	}
	if len(req.Fields) > s.cfg.MaxFields {
		return nil, appErrors.FieldError("fields", fmt.Sprintf("a form may have at most %d fields", s.cfg.MaxFields))
	}
	tpl := &models.FormTemplate{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Active:      true,
		CreatedBy:   claims.UserID,
		CreatorName: claims.FullName,
	}
	for i, fieldReq := range req.Fields {
		field, err := buildField(fieldReq)
		if err != nil {
			return nil, err
		}
		field.Position = i + 1
		if fieldReq.Position != nil {
			field.Position = *fieldReq.Position
		}
		tpl.Fields = append(tpl.Fields, *field)
	}
	if err := s.repo.CreateTemplate(ctx, tpl); err != nil {
		return nil, persistenceError(err, "form not found", "failed to create form")
	}
	s.logger.Info("form template created", zap.Int64("template_id", tpl.ID), zap.Int("fields", len(tpl.Fields)))
	return tpl, nil
}

// UpdateTemplate edits name, description and the active flag.
func (s *FormService) UpdateTemplate(ctx context.Context, id int64, req dto.UpdateFormTemplateRequest) (*models.FormTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid form payload")
	}
	tpl, err := s.repo.FindTemplate(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "form not found", "failed to load form")
	}
	tpl.Name = strings.TrimSpace(req.Name)
	tpl.Description = strings.TrimSpace(req.Description)
	if req.Active != nil {
		tpl.Active = *req.Active
	}
	if err := s.repo.UpdateTemplate(ctx, tpl); err != nil {
		return nil, persistenceError(err, "form not found", "failed to update form")
	}
	return tpl, nil
}

// DeleteTemplate deactivates a template that has never been submitted.
func (s *FormService) DeleteTemplate(ctx context.Context, id int64) error {
	if _, err := s.repo.FindTemplate(ctx, id); err != nil {
		return persistenceError(err, "form not found", "failed to load form")
	}
	responses, err := s.repo.CountResponses(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count form responses")
	}
	if responses > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("form has %d responses", responses))
	}
	if err := s.repo.DeactivateTemplate(ctx, id); err != nil {
		return persistenceError(err, "form not found", "failed to delete form")
	}
	return nil
}

// AddField appends a field, or places it at the requested position.
func (s *FormService) AddField(ctx context.Context, templateID int64, req dto.FieldRequest) (*models.FormField, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid field payload")
	}
	if _, err := s.repo.FindTemplate(ctx, templateID); err != nil {
		return nil, persistenceError(err, "form not found", "failed to load form")
	}
	fields, err := s.repo.ListFields(ctx, templateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form fields")
	}
	if len(fields) >= s.cfg.MaxFields {
		return nil, appErrors.FieldError("fields", fmt.Sprintf("a form may have at most %d fields", s.cfg.MaxFields))
	}
	field, err := buildField(req)
	if err != nil {
		return nil, err
	}
	field.TemplateID = templateID
	if req.Position != nil {
		field.Position = *req.Position
	} else if field.Position, err = s.repo.NextPosition(ctx, templateID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute field position")
	}
	if err := s.repo.CreateField(ctx, field); err != nil {
		return nil, persistenceError(err, "form not found", "failed to create field")
	}
	return field, nil
}

// UpdateField edits a field. The type of a field that already has answers cannot change.
func (s *FormService) UpdateField(ctx context.Context, id int64, req dto.FieldRequest) (*models.FormField, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid field payload")
	}
	field, err := s.repo.FindField(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "field not found", "failed to load field")
	}
	updated, err := buildField(req)
	if err != nil {
		return nil, err
	}
	if updated.Type != field.Type {
		answers, err := s.repo.CountFieldAnswers(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count field answers")
		}
		if answers > 0 {
			return nil, appErrors.Clone(appErrors.ErrConflict, "field type cannot change once answered")
		}
	}
	updated.ID = field.ID
	updated.TemplateID = field.TemplateID
	updated.Position = field.Position
	if req.Position != nil {
		updated.Position = *req.Position
	}
	if err := s.repo.UpdateField(ctx, updated); err != nil {
		return nil, persistenceError(err, "field not found", "failed to update field")
	}
	return updated, nil
}

// DeleteField removes a field that has no answers.
func (s *FormService) DeleteField(ctx context.Context, id int64) error {
	if _, err := s.repo.FindField(ctx, id); err != nil {
		return persistenceError(err, "field not found", "failed to load field")
	}
	answers, err := s.repo.CountFieldAnswers(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count field answers")
	}
	if answers > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "field has stored answers")
	}
	if err := s.repo.DeleteField(ctx, id); err != nil {
		return persistenceError(err, "field not found", "failed to delete field")
	}
	return nil
}

// buildField validates the type and keeps only the config members relevant to it.
func buildField(req dto.FieldRequest) (*models.FormField, error) {
	if !req.Type.Valid() {
		return nil, appErrors.FieldError("field_type", fmt.Sprintf("unknown field type %q", req.Type))
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, appErrors.FieldError("title", "title is required")
	}
	cfg, err := req.Config.Normalize(req.Type)
	if err != nil {
		return nil, appErrors.FieldError("config", err.Error())
	}
	return &models.FormField{
		Type:        req.Type,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Required:    req.Required && req.Type.Captures(),
		Config:      cfg,
	}, nil
}
