package models

import "time"

// Built-in role names. Administrators may add more roles; only these carry special behaviour.
const (
	RoleAdministrator = "Administrador"
	RoleCoordinator   = "Coordinador"
	RoleTechnician    = "Técnico"
	RoleUser          = "Usuario"
)

// IsManagerRole reports whether the role sees every incident and may assign technicians.
func IsManagerRole(role string) bool {
	return role == RoleAdministrator || role == RoleCoordinator
}

// Role is a named permission tier.
type Role struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	UserCount   int    `db:"user_count" json:"user_count"`
}

// User represents an application user stored in the users table.
type User struct {
	ID             int64      `db:"id" json:"id"`
	FullName       string     `db:"full_name" json:"full_name"`
	DocumentType   string     `db:"document_type" json:"document_type"`
	DocumentNumber string     `db:"document_number" json:"document_number"`
	Phone          string     `db:"phone" json:"phone"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	RoleID         int64      `db:"role_id" json:"role_id"`
	RoleName       string     `db:"role_name" json:"role"`
	Active         bool       `db:"active" json:"active"`
	LastLogin      *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	RoleID    *int64
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
