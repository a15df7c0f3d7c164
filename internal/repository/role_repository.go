package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

// RoleRepository persists roles.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository constructs a RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// List returns every role with the number of users holding it.
func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT r.id, r.name, r.description, COUNT(u.id) AS user_count FROM roles r LEFT JOIN users u ON u.role_id = r.id GROUP BY r.id, r.name, r.description ORDER BY r.id`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// FindByID returns a role by id.
func (r *RoleRepository) FindByID(ctx context.Context, id int64) (*models.Role, error) {
	const query = `SELECT id, name, description FROM roles WHERE id = $1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &role, nil
}

// FindByName returns a role by exact name.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	const query = `SELECT id, name, description FROM roles WHERE name = $1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find role by name: %w", err)
	}
	return &role, nil
}

// Create inserts a role.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	const query = `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, role.Name, role.Description).Scan(&role.ID); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// Update renames or re-describes a role.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE roles SET name = $2, description = $3 WHERE id = $1`, role.ID, role.Name, role.Description)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a role.
func (r *RoleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return requireAffected(res)
}

// CountUsers counts users holding the role.
func (r *RoleRepository) CountUsers(ctx context.Context, id int64) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users WHERE role_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count role users: %w", err)
	}
	return total, nil
}
