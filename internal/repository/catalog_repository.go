package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

// CatalogRepository persists clients, sites and systems.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const clientColumns = `id, name, document_type, document_number, email, phone, address, main_contact, contact_title, active, created_at`

// ListClients returns clients ordered by name.
func (r *CatalogRepository) ListClients(ctx context.Context, filter models.CatalogFilter) ([]models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients`
	if filter.ActiveOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY name`
	var clients []models.Client
	if err := r.db.SelectContext(ctx, &clients, query); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// FindClient returns a client by id.
func (r *CatalogRepository) FindClient(ctx context.Context, id int64) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	var client models.Client
	if err := r.db.GetContext(ctx, &client, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find client: %w", err)
	}
	return &client, nil
}

// CreateClient inserts a client.
func (r *CatalogRepository) CreateClient(ctx context.Context, client *models.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO clients (name, document_type, document_number, email, phone, address, main_contact, contact_title, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		client.Name, client.DocumentType, client.DocumentNumber, client.Email, client.Phone,
		client.Address, client.MainContact, client.ContactTitle, client.Active, client.CreatedAt,
	).Scan(&client.ID); err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// UpdateClient updates a client.
func (r *CatalogRepository) UpdateClient(ctx context.Context, client *models.Client) error {
	const query = `UPDATE clients SET name = :name, document_type = :document_type, document_number = :document_number, email = :email, phone = :phone, address = :address, main_contact = :main_contact, contact_title = :contact_title, active = :active WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, client)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	return requireAffected(res)
}

// DeactivateClient soft-deletes a client.
func (r *CatalogRepository) DeactivateClient(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE clients SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate client: %w", err)
	}
	return requireAffected(res)
}

const siteColumns = `s.id, s.client_id, c.name AS client_name, s.name, s.address, s.phone, s.email, s.contact_name, s.contact_title, s.active, s.created_at`

// ListSites returns sites, optionally restricted to one client.
func (r *CatalogRepository) ListSites(ctx context.Context, filter models.CatalogFilter) ([]models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites s JOIN clients c ON c.id = s.client_id WHERE 1=1`
	var args []interface{}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		query += fmt.Sprintf(" AND s.client_id = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += ` AND s.active = TRUE`
	}
	query += ` ORDER BY s.name`
	var sites []models.Site
	if err := r.db.SelectContext(ctx, &sites, query, args...); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// FindSite returns a site by id.
func (r *CatalogRepository) FindSite(ctx context.Context, id int64) (*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites s JOIN clients c ON c.id = s.client_id WHERE s.id = $1`
	var site models.Site
	if err := r.db.GetContext(ctx, &site, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find site: %w", err)
	}
	return &site, nil
}

// CreateSite inserts a site.
func (r *CatalogRepository) CreateSite(ctx context.Context, site *models.Site) error {
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO sites (client_id, name, address, phone, email, contact_name, contact_title, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		site.ClientID, site.Name, site.Address, site.Phone, site.Email,
		site.ContactName, site.ContactTitle, site.Active, site.CreatedAt,
	).Scan(&site.ID); err != nil {
		return fmt.Errorf("create site: %w", err)
	}
	return nil
}

// UpdateSite updates a site.
func (r *CatalogRepository) UpdateSite(ctx context.Context, site *models.Site) error {
	const query = `UPDATE sites SET client_id = :client_id, name = :name, address = :address, phone = :phone, email = :email, contact_name = :contact_name, contact_title = :contact_title, active = :active WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, site)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	return requireAffected(res)
}

// DeactivateSite soft-deletes a site.
func (r *CatalogRepository) DeactivateSite(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sites SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate site: %w", err)
	}
	return requireAffected(res)
}

const systemColumns = `id, name, description, active, created_at`

// ListSystems returns system categories ordered by name.
func (r *CatalogRepository) ListSystems(ctx context.Context, filter models.CatalogFilter) ([]models.System, error) {
	query := `SELECT ` + systemColumns + ` FROM systems`
	if filter.ActiveOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY name`
	var systems []models.System
	if err := r.db.SelectContext(ctx, &systems, query); err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	return systems, nil
}

// FindSystem returns a system by id.
func (r *CatalogRepository) FindSystem(ctx context.Context, id int64) (*models.System, error) {
	query := `SELECT ` + systemColumns + ` FROM systems WHERE id = $1`
	var system models.System
	if err := r.db.GetContext(ctx, &system, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find system: %w", err)
	}
	return &system, nil
}

// CreateSystem inserts a system.
func (r *CatalogRepository) CreateSystem(ctx context.Context, system *models.System) error {
	if system.CreatedAt.IsZero() {
		system.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO systems (name, description, active, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, system.Name, system.Description, system.Active, system.CreatedAt).Scan(&system.ID); err != nil {
		return fmt.Errorf("create system: %w", err)
	}
	return nil
}

// UpdateSystem updates a system.
func (r *CatalogRepository) UpdateSystem(ctx context.Context, system *models.System) error {
	const query = `UPDATE systems SET name = :name, description = :description, active = :active WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, system)
	if err != nil {
		return fmt.Errorf("update system: %w", err)
	}
	return requireAffected(res)
}

// DeactivateSystem soft-deletes a system.
func (r *CatalogRepository) DeactivateSystem(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE systems SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate system: %w", err)
	}
	return requireAffected(res)
}

// CountIncidents counts incidents referencing a catalog entry. column must be one of
// client_id, site_id or system_id.
func (r *CatalogRepository) CountIncidents(ctx context.Context, column string, id int64) (int, error) {
	switch column {
	case "client_id", "site_id", "system_id":
	default:
		return 0, fmt.Errorf("unsupported incident reference column %q", column)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM incidents WHERE `+column+` = $1`, id); err != nil {
		return 0, fmt.Errorf("count incidents by %s: %w", column, err)
	}
	return total, nil
}
