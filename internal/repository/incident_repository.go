package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

const incidentSelect = `SELECT i.id, i.code, i.title, i.description, i.state, i.started_at, i.state_changed_at,
i.assigned_technician_id, i.created_by, i.client_id, i.site_id, i.system_id, i.attachments, i.attachment_captions, i.image_layout,
c.name AS client_name, c.main_contact AS client_contact, c.contact_title AS contact_title, s.name AS site_name, sy.name AS system_name,
COALESCE(t.full_name, '') AS technician_name, cr.full_name AS creator_name`

const incidentFrom = `FROM incidents i
JOIN clients c ON c.id = i.client_id
JOIN sites s ON s.id = i.site_id
JOIN systems sy ON sy.id = i.system_id
LEFT JOIN users t ON t.id = i.assigned_technician_id
JOIN users cr ON cr.id = i.created_by`

// IncidentRepository persists incidents.
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository constructs an IncidentRepository.
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

func incidentConditions(filter models.IncidentFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.VisibleTo != nil {
		conditions = append(conditions, fmt.Sprintf("i.assigned_technician_id = $%d", len(args)+1))
		args = append(args, *filter.VisibleTo)
	}
	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("i.client_id = $%d", len(args)+1))
		args = append(args, *filter.ClientID)
	}
	if filter.State != nil {
		conditions = append(conditions, fmt.Sprintf("i.state = $%d", len(args)+1))
		args = append(args, string(*filter.State))
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("i.id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.IDs))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(i.title) LIKE $%d OR LOWER(i.code) LIKE $%d OR LOWER(c.name) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	where := " WHERE 1=1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// List returns one page of incidents matching the filter, newest first, with the total count.
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error) {
	where, args := incidentConditions(filter)
	_, pageSize, offset := paginate(filter.Page, filter.PageSize, 10)

	listQuery := fmt.Sprintf("%s %s%s ORDER BY i.started_at DESC, i.id DESC LIMIT %d OFFSET %d", incidentSelect, incidentFrom, where, pageSize, offset)
	var incidents []models.Incident
	if err := r.db.SelectContext(ctx, &incidents, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s%s", incidentFrom, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}
	return incidents, total, nil
}

// Select returns every incident matching the filter without paging, oldest first.
func (r *IncidentRepository) Select(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	where, args := incidentConditions(filter)
	query := fmt.Sprintf("%s %s%s ORDER BY i.started_at ASC, i.id ASC", incidentSelect, incidentFrom, where)
	var incidents []models.Incident
	if err := r.db.SelectContext(ctx, &incidents, query, args...); err != nil {
		return nil, fmt.Errorf("select incidents: %w", err)
	}
	return incidents, nil
}

// FindByID returns one incident with its joined names.
func (r *IncidentRepository) FindByID(ctx context.Context, id int64) (*models.Incident, error) {
	query := incidentSelect + " " + incidentFrom + " WHERE i.id = $1"
	var incident models.Incident
	if err := r.db.GetContext(ctx, &incident, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find incident: %w", err)
	}
	return &incident, nil
}

// Create mints the incident code from the sequence index and inserts the row in one transaction.
// A failed insert rolls the counter back with it.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident, indexID int64) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin incident tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	index, err := advanceSequence(ctx, tx, indexID)
	if err != nil {
		return err
	}
	incident.Code = index.Format(index.Counter)

	const query = `INSERT INTO incidents (code, title, description, state, started_at, state_changed_at, assigned_technician_id, created_by, client_id, site_id, system_id, attachments, attachment_captions, image_layout)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`
	if err = tx.QueryRowxContext(ctx, query,
		incident.Code, incident.Title, incident.Description, string(incident.State), incident.StartedAt, incident.StateChangedAt,
		incident.AssignedTechnicianID, incident.CreatedBy, incident.ClientID, incident.SiteID, incident.SystemID,
		incident.Attachments, incident.AttachmentCaptions, incident.ImageLayout,
	).Scan(&incident.ID); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit incident: %w", err)
	}
	return nil
}

// Update writes the mutable incident columns.
func (r *IncidentRepository) Update(ctx context.Context, incident *models.Incident) error {
	const query = `UPDATE incidents SET title = $2, description = $3, state = $4, state_changed_at = $5, assigned_technician_id = $6,
client_id = $7, site_id = $8, system_id = $9, attachments = $10, attachment_captions = $11, image_layout = $12 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		incident.ID, incident.Title, incident.Description, string(incident.State), incident.StateChangedAt, incident.AssignedTechnicianID,
		incident.ClientID, incident.SiteID, incident.SystemID, incident.Attachments, incident.AttachmentCaptions, incident.ImageLayout,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return requireAffected(res)
}

// Stats counts the visible incidents per state and loads the five most recent.
func (r *IncidentRepository) Stats(ctx context.Context, visibleTo *int64) (*models.IncidentStats, error) {
	where, args := incidentConditions(models.IncidentFilter{VisibleTo: visibleTo})
	countQuery := fmt.Sprintf(`SELECT COUNT(*) AS total,
COUNT(*) FILTER (WHERE i.state = '%s') AS open,
COUNT(*) FILTER (WHERE i.state = '%s') AS in_progress,
COUNT(*) FILTER (WHERE i.state = '%s') AS closed
FROM incidents i%s`, models.IncidentOpen, models.IncidentInProgress, models.IncidentClosed, where)

	var stats models.IncidentStats
	if err := r.db.GetContext(ctx, &stats, countQuery, args...); err != nil {
		return nil, fmt.Errorf("incident stats: %w", err)
	}

	recent, _, err := r.List(ctx, models.IncidentFilter{VisibleTo: visibleTo, Page: 1, PageSize: 5})
	if err != nil {
		return nil, err
	}
	stats.Recent = recent
	return &stats, nil
}
