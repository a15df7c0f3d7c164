package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "full_name", "document_type", "document_number", "phone", "email", "password_hash", "role_id", "role_name", "active", "last_login", "created_at", "updated_at"}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow(1, "Ana Gómez", "CC", "1234567", "3001234567", "ana@example.com", "hash", 1, models.RoleAdministrator, true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users u JOIN roles r ON r.id = u.role_id WHERE LOWER(u.email) = LOWER($1) LIMIT 1")).
		WithArgs("ANA@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, models.RoleAdministrator, user.RoleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE u.id = $1 LIMIT 1")).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 9)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserReturnsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	user := &models.User{FullName: "Luis", DocumentType: "CC", DocumentNumber: "7654321", Phone: "3000000000", Email: "luis@example.com", PasswordHash: "hash", RoleID: 3, Active: true}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.Equal(t, int64(42), user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{UserID: 1, Token: "token", ExpiresAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	listRows := sqlmock.NewRows(userRowColumns).
		AddRow(1, "A", "CC", "1234567", "3001234567", "a@example.com", "hash", 1, models.RoleAdministrator, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users u JOIN roles r ON r.id = u.role_id WHERE 1=1 ORDER BY u.created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(listRows)

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users u JOIN roles r ON r.id = u.role_id WHERE 1=1")).WillReturnRows(countRows)

	users, total, err := repo.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	roleID := int64(3)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND u.role_id = $1 AND (LOWER(u.email) LIKE $2 OR LOWER(u.full_name) LIKE $2 OR u.document_number LIKE $2) ORDER BY u.full_name ASC LIMIT 5 OFFSET 5")).
		WithArgs(roleID, "%ana%").
		WillReturnRows(sqlmock.NewRows(userRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(roleID, "%ana%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	_, total, err := repo.List(context.Background(), models.UserFilter{RoleID: &roleID, Search: "Ana", Page: 2, PageSize: 5, SortBy: "full_name", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountIncidentReferences(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM incidents WHERE created_by = $1 OR assigned_technician_id = $1")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	total, err := repo.CountIncidentReferences(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.Delete(context.Background(), 5), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
