package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/config"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type mockUserRepo struct {
	users       map[int64]*models.User
	nextID      int64
	listUsers   []models.User
	listCount   int
	listErr     error
	findByIDErr error
	createErr   error
	incidentRef map[int64]int
	auditLogs   []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	if m.listUsers != nil {
		return m.listUsers, m.listCount, nil
	}
	var users []models.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Count(ctx context.Context) (int, error) {
	return len(m.users), nil
}

func (m *mockUserRepo) CountIncidentReferences(ctx context.Context, id int64) (int, error) {
	return m.incidentRef[id], nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.users == nil {
		m.users = make(map[int64]*models.User)
	}
	m.nextID++
	user.ID = m.nextID
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.users[id]; ok {
		delete(m.users, id)
		return nil
	}
	return sql.ErrNoRows
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type stubRoleLookup struct {
	roles map[int64]*models.Role
}

func (s *stubRoleLookup) FindByID(ctx context.Context, id int64) (*models.Role, error) {
	if role, ok := s.roles[id]; ok {
		return role, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubRoleLookup) FindByName(ctx context.Context, name string) (*models.Role, error) {
	for _, role := range s.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return nil, sql.ErrNoRows
}

func defaultRoles() *stubRoleLookup {
	return &stubRoleLookup{roles: map[int64]*models.Role{
		1: {ID: 1, Name: models.RoleAdministrator},
		3: {ID: 3, Name: models.RoleTechnician},
	}}
}

func validCreateUser() CreateUserRequest {
	return CreateUserRequest{
		FullName: "Ana Gómez", DocumentType: "CC", DocumentNumber: "1234567", Phone: "3001234567",
		Email: "ANA@EXAMPLE.COM", Password: "secret1", RoleID: 3,
	}
}

func TestUserServiceList(t *testing.T) {
	repo := &mockUserRepo{listUsers: []models.User{{ID: 1, Email: "a@example.com"}}, listCount: 1}
	svc := NewUserService(repo, defaultRoles(), validator.New(), zap.NewNop())
	users, pagination, err := svc.List(context.Background(), models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestUserServiceCreate(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, defaultRoles(), validator.New(), zap.NewNop())
	user, err := svc.Create(context.Background(), validCreateUser(), 1, models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, models.RoleTechnician, user.RoleName)
	assert.True(t, user.Active)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))
	assert.NotEmpty(t, repo.auditLogs)
}

func TestUserServiceCreateRejectsUnknownRole(t *testing.T) {
	svc := NewUserService(&mockUserRepo{}, defaultRoles(), nil, nil)
	req := validCreateUser()
	req.RoleID = 42
	_, err := svc.Create(context.Background(), req, 1, models.LoginRequest{})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "role_id", appErr.Field)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{createErr: &pq.Error{Code: "23505", Constraint: "users_email_key"}}
	svc := NewUserService(repo, defaultRoles(), nil, nil)
	_, err := svc.Create(context.Background(), validCreateUser(), 1, models.LoginRequest{})
	require.ErrorIs(t, err, appErrors.ErrIntegrityConflict)
	assert.Equal(t, "email", appErrors.FromError(err).Field)
}

func TestUserServiceUpdateKeepsPasswordWhenBlank(t *testing.T) {
	repo := &mockUserRepo{users: map[int64]*models.User{2: {ID: 2, Email: "a@example.com", FullName: "Old", RoleID: 3, RoleName: models.RoleTechnician, PasswordHash: "keep", Active: true}}}
	svc := NewUserService(repo, defaultRoles(), validator.New(), zap.NewNop())
	active := false
	user, err := svc.Update(context.Background(), 2, UpdateUserRequest{
		FullName: "New", DocumentType: "CC", DocumentNumber: "999999", Phone: "3000000", Email: "a@example.com", RoleID: 1, Active: &active,
	}, 1, models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdministrator, user.RoleName)
	assert.False(t, user.Active)
	assert.Equal(t, "keep", repo.users[2].PasswordHash)
	assert.NotEmpty(t, repo.auditLogs)
}

func TestUserServiceDeleteGuards(t *testing.T) {
	repo := &mockUserRepo{
		users:       map[int64]*models.User{1: {ID: 1}, 2: {ID: 2}, 3: {ID: 3}},
		incidentRef: map[int64]int{2: 1},
	}
	svc := NewUserService(repo, defaultRoles(), validator.New(), zap.NewNop())

	require.ErrorIs(t, svc.Delete(context.Background(), 1, 1, models.LoginRequest{}), appErrors.ErrConflict)
	require.ErrorIs(t, svc.Delete(context.Background(), 2, 1, models.LoginRequest{}), appErrors.ErrConflict)
	require.ErrorIs(t, svc.Delete(context.Background(), 9, 1, models.LoginRequest{}), appErrors.ErrNotFound)

	require.NoError(t, svc.Delete(context.Background(), 3, 1, models.LoginRequest{}))
	_, ok := repo.users[3]
	assert.False(t, ok)
	assert.Len(t, repo.auditLogs, 1)
}

func TestEnsureAdministrator(t *testing.T) {
	repo := &mockUserRepo{}
	svc := NewUserService(repo, defaultRoles(), nil, nil)

	created, err := svc.EnsureAdministrator(context.Background(), config.BootstrapConfig{})
	require.NoError(t, err)
	assert.False(t, created)

	cfg := config.BootstrapConfig{Email: "Admin@Bacs.co", Password: "changeme", FullName: "Admin", DocumentNumber: "1"}
	created, err = svc.EnsureAdministrator(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "admin@bacs.co", repo.users[1].Email)
	assert.Equal(t, models.RoleAdministrator, repo.users[1].RoleName)

	created, err = svc.EnsureAdministrator(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, created)
}
