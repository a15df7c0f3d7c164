package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

func TestRoleRepositoryListWithUserCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "description", "user_count"}).
		AddRow(1, models.RoleAdministrator, "Acceso total", 2).
		AddRow(3, models.RoleTechnician, "", 0)
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN users u ON u.role_id = r.id GROUP BY")).WillReturnRows(rows)

	roles, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, 2, roles[0].UserCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepositoryCreateAndCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRoleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id")).
		WithArgs("Supervisor", "Revisa informes").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role_id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	role := &models.Role{Name: "Supervisor", Description: "Revisa informes"}
	require.NoError(t, repo.Create(context.Background(), role))
	assert.Equal(t, int64(5), role.ID)

	total, err := repo.CountUsers(context.Background(), role.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
