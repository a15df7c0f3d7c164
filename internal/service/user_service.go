package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/config"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Count(ctx context.Context) (int, error)
	CountIncidentReferences(ctx context.Context, id int64) (int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userRoleLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Role, error)
	FindByName(ctx context.Context, name string) (*models.Role, error)
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	FullName       string `json:"full_name" validate:"required,max=100"`
	DocumentType   string `json:"document_type" validate:"required,max=20"`
	DocumentNumber string `json:"document_number" validate:"required,max=20"`
	Phone          string `json:"phone" validate:"required,max=20"`
	Email          string `json:"email" validate:"required,email,max=120"`
	Password       string `json:"password" validate:"required,min=6"`
	RoleID         int64  `json:"role_id" validate:"required,gt=0"`
	Active         *bool  `json:"active"`
}

// UpdateUserRequest payload for updating users. An empty password keeps the current one.
type UpdateUserRequest struct {
	FullName       string `json:"full_name" validate:"required,max=100"`
	DocumentType   string `json:"document_type" validate:"required,max=20"`
	DocumentNumber string `json:"document_number" validate:"required,max=20"`
	Phone          string `json:"phone" validate:"required,max=20"`
	Email          string `json:"email" validate:"required,email,max=120"`
	Password       string `json:"password" validate:"omitempty,min=6"`
	RoleID         int64  `json:"role_id" validate:"required,gt=0"`
	Active         *bool  `json:"active"`
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	roles     userRoleLookup
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, roles userRoleLookup, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, roles: roles, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "user not found", "failed to load user")
	}
	return user, nil
}

// Create adds a new user. Email and document number uniqueness is enforced by the database.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID int64, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}
	role, err := s.resolveRole(ctx, req.RoleID)
	if err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &models.User{
		FullName:       strings.TrimSpace(req.FullName),
		DocumentType:   strings.TrimSpace(req.DocumentType),
		DocumentNumber: strings.TrimSpace(req.DocumentNumber),
		Phone:          strings.TrimSpace(req.Phone),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:   string(passwordHash),
		RoleID:         role.ID,
		RoleName:       role.Name,
		Active:         active,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, persistenceError(err, "user not found", "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.RoleName})
	s.audit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: idString(user.ID),
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return user, nil
}

// Update modifies the user attributes and optionally the password.
func (s *UserService) Update(ctx context.Context, id int64, req UpdateUserRequest, actorID int64, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "user not found", "failed to load user")
	}
	role, err := s.resolveRole(ctx, req.RoleID)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"role": user.RoleName, "active": user.Active, "email": user.Email})

	user.FullName = strings.TrimSpace(req.FullName)
	user.DocumentType = strings.TrimSpace(req.DocumentType)
	user.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	user.Phone = strings.TrimSpace(req.Phone)
	user.Email = strings.ToLower(strings.TrimSpace(req.Email))
	user.RoleID = role.ID
	user.RoleName = role.Name
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		user.PasswordHash = string(hash)
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, persistenceError(err, "user not found", "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"role": user.RoleName, "active": user.Active, "email": user.Email, "password_changed": req.Password != ""})
	s.audit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: idString(user.ID),
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return user, nil
}

// Delete removes a user. The caller's own account and users referenced by incidents are kept.
func (s *UserService) Delete(ctx context.Context, id int64, actorID int64, meta models.LoginRequest) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrConflict, "you cannot delete your own account")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return persistenceError(err, "user not found", "failed to load user")
	}

	refs, err := s.repo.CountIncidentReferences(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check incident references")
	}
	if refs > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "user has created or is assigned to incidents")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return persistenceError(err, "user not found", "failed to delete user")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "role": user.RoleName})
	s.audit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserDelete,
		Resource:   "users",
		ResourceID: idString(user.ID),
		OldValues:  oldPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// EnsureAdministrator creates the initial Administrator when the users table is empty and
// bootstrap credentials are configured. It reports whether a user was created.
func (s *UserService) EnsureAdministrator(ctx context.Context, cfg config.BootstrapConfig) (bool, error) {
	if strings.TrimSpace(cfg.Email) == "" || cfg.Password == "" {
		return false, nil
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}
	if total > 0 {
		return false, nil
	}

	role, err := s.roles.FindByName(ctx, models.RoleAdministrator)
	if err != nil {
		return false, persistenceError(err, "administrator role missing", "failed to load administrator role")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	name := cfg.FullName
	if name == "" {
		name = models.RoleAdministrator
	}
	user := &models.User{
		FullName:       name,
		DocumentType:   "CC",
		DocumentNumber: cfg.DocumentNumber,
		Phone:          "0000000",
		Email:          strings.ToLower(strings.TrimSpace(cfg.Email)),
		PasswordHash:   string(hash),
		RoleID:         role.ID,
		RoleName:       role.Name,
		Active:         true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return false, persistenceError(err, "user not found", "failed to create administrator")
	}
	s.logger.Info("initial administrator created", zap.String("email", user.Email), zap.Int64("user_id", user.ID))
	return true, nil
}

func (s *UserService) resolveRole(ctx context.Context, id int64) (*models.Role, error) {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.FieldError("role_id", "role does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}
	return role, nil
}

func (s *UserService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
