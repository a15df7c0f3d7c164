package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type roleRepository interface {
	List(ctx context.Context) ([]models.Role, error)
	FindByID(ctx context.Context, id int64) (*models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id int64) error
	CountUsers(ctx context.Context, id int64) (int, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RoleRequest creates or renames a role.
type RoleRequest struct {
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description" validate:"max=255"`
}

// RoleService manages the permission tiers.
type RoleService struct {
	repo      roleRepository
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoleService constructs a RoleService.
func NewRoleService(repo roleRepository, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RoleService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns every role with its user count.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	roles, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roles")
	}
	return roles, nil
}

// Create adds a role. Names are unique.
func (s *RoleService) Create(ctx context.Context, req RoleRequest, actorID int64, meta models.LoginRequest) (*models.Role, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid role payload")
	}
	role := &models.Role{Name: strings.TrimSpace(req.Name), Description: strings.TrimSpace(req.Description)}
	if err := s.repo.Create(ctx, role); err != nil {
		return nil, persistenceError(err, "role not found", "failed to create role")
	}
	payload, _ := json.Marshal(role)
	s.record(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionRoleCreate,
		Resource:   "roles",
		ResourceID: idString(role.ID),
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return role, nil
}

// Update renames or re-describes a role.
func (s *RoleService) Update(ctx context.Context, id int64, req RoleRequest, actorID int64, meta models.LoginRequest) (*models.Role, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid role payload")
	}
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "role not found", "failed to load role")
	}
	oldPayload, _ := json.Marshal(role)
	role.Name = strings.TrimSpace(req.Name)
	role.Description = strings.TrimSpace(req.Description)
	if err := s.repo.Update(ctx, role); err != nil {
		return nil, persistenceError(err, "role not found", "failed to update role")
	}
	newPayload, _ := json.Marshal(role)
	s.record(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionRoleUpdate,
		Resource:   "roles",
		ResourceID: idString(role.ID),
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return role, nil
}

// Delete removes a role nobody holds.
func (s *RoleService) Delete(ctx context.Context, id int64, actorID int64, meta models.LoginRequest) error {
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return persistenceError(err, "role not found", "failed to load role")
	}
	users, err := s.repo.CountUsers(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count role users")
	}
	if users > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "role is assigned to users")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return persistenceError(err, "role not found", "failed to delete role")
	}
	oldPayload, _ := json.Marshal(role)
	s.record(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionRoleDelete,
		Resource:   "roles",
		ResourceID: idString(id),
		OldValues:  oldPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

func (s *RoleService) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
