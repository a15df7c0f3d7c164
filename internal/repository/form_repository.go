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

const templateSelect = `SELECT t.id, t.name, t.description, t.active, t.created_by, COALESCE(u.full_name, '') AS creator_name, t.created_at,
(SELECT COUNT(*) FROM form_fields f WHERE f.template_id = t.id) AS field_count,
(SELECT COUNT(*) FROM form_responses fr WHERE fr.template_id = t.id) AS response_count
FROM form_templates t LEFT JOIN users u ON u.id = t.created_by`

const fieldColumns = `id, template_id, field_type, title, description, required, position, config`

// FormRepository persists form templates and their fields.
type FormRepository struct {
	db *sqlx.DB
}

// NewFormRepository constructs a FormRepository.
func NewFormRepository(db *sqlx.DB) *FormRepository {
	return &FormRepository{db: db}
}

// ListTemplates returns templates ordered by name.
func (r *FormRepository) ListTemplates(ctx context.Context, activeOnly bool) ([]models.FormTemplate, error) {
	query := templateSelect
	if activeOnly {
		query += ` WHERE t.active = TRUE`
	}
	query += ` ORDER BY t.name`
	var templates []models.FormTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list form templates: %w", err)
	}
	return templates, nil
}

// FindTemplate returns a template without its fields.
func (r *FormRepository) FindTemplate(ctx context.Context, id int64) (*models.FormTemplate, error) {
	var tpl models.FormTemplate
	if err := r.db.GetContext(ctx, &tpl, templateSelect+` WHERE t.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find form template: %w", err)
	}
	return &tpl, nil
}

// ListFields returns the template's fields in display order.
func (r *FormRepository) ListFields(ctx context.Context, templateID int64) ([]models.FormField, error) {
	query := `SELECT ` + fieldColumns + ` FROM form_fields WHERE template_id = $1 ORDER BY position, id`
	var fields []models.FormField
	if err := r.db.SelectContext(ctx, &fields, query, templateID); err != nil {
		return nil, fmt.Errorf("list form fields: %w", err)
	}
	return fields, nil
}

// CreateTemplate inserts the template and its initial fields in one transaction.
func (r *FormRepository) CreateTemplate(ctx context.Context, tpl *models.FormTemplate) (err error) {
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin form template tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO form_templates (name, description, active, created_by, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err = tx.QueryRowxContext(ctx, query, tpl.Name, tpl.Description, tpl.Active, tpl.CreatedBy, tpl.CreatedAt).Scan(&tpl.ID); err != nil {
		return fmt.Errorf("insert form template: %w", err)
	}
	for i := range tpl.Fields {
		tpl.Fields[i].TemplateID = tpl.ID
		if err = insertField(ctx, tx, &tpl.Fields[i]); err != nil {
			return err
		}
	}
	tpl.FieldCount = len(tpl.Fields)

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit form template: %w", err)
	}
	return nil
}

// UpdateTemplate writes name, description and the active flag.
func (r *FormRepository) UpdateTemplate(ctx context.Context, tpl *models.FormTemplate) error {
	res, err := r.db.ExecContext(ctx, `UPDATE form_templates SET name = $2, description = $3, active = $4 WHERE id = $1`, tpl.ID, tpl.Name, tpl.Description, tpl.Active)
	if err != nil {
		return fmt.Errorf("update form template: %w", err)
	}
	return requireAffected(res)
}

// DeactivateTemplate soft-deletes a template.
func (r *FormRepository) DeactivateTemplate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE form_templates SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate form template: %w", err)
	}
	return requireAffected(res)
}

// CountResponses counts submissions of a template.
func (r *FormRepository) CountResponses(ctx context.Context, templateID int64) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM form_responses WHERE template_id = $1`, templateID); err != nil {
		return 0, fmt.Errorf("count form responses: %w", err)
	}
	return total, nil
}

// FindField returns one field.
func (r *FormRepository) FindField(ctx context.Context, id int64) (*models.FormField, error) {
	var field models.FormField
	if err := r.db.GetContext(ctx, &field, `SELECT `+fieldColumns+` FROM form_fields WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find form field: %w", err)
	}
	return &field, nil
}

// NextPosition returns the position after the template's last field.
func (r *FormRepository) NextPosition(ctx context.Context, templateID int64) (int, error) {
	var next int
	if err := r.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(position), 0) + 1 FROM form_fields WHERE template_id = $1`, templateID); err != nil {
		return 0, fmt.Errorf("next field position: %w", err)
	}
	return next, nil
}

// CreateField inserts a field.
func (r *FormRepository) CreateField(ctx context.Context, field *models.FormField) error {
	return insertField(ctx, r.db, field)
}

// UpdateField writes every mutable field column.
func (r *FormRepository) UpdateField(ctx context.Context, field *models.FormField) error {
	const query = `UPDATE form_fields SET field_type = $2, title = $3, description = $4, required = $5, position = $6, config = $7 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, field.ID, string(field.Type), field.Title, field.Description, field.Required, field.Position, field.Config)
	if err != nil {
		return fmt.Errorf("update form field: %w", err)
	}
	return requireAffected(res)
}

// DeleteField removes a field.
func (r *FormRepository) DeleteField(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM form_fields WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete form field: %w", err)
	}
	return requireAffected(res)
}

// CountFieldAnswers counts stored answers for a field.
func (r *FormRepository) CountFieldAnswers(ctx context.Context, fieldID int64) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM field_responses WHERE field_id = $1`, fieldID); err != nil {
		return 0, fmt.Errorf("count field answers: %w", err)
	}
	return total, nil
}

func insertField(ctx context.Context, q sqlx.QueryerContext, field *models.FormField) error {
	const query = `INSERT INTO form_fields (template_id, field_type, title, description, required, position, config) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := q.QueryRowxContext(ctx, query,
		field.TemplateID, string(field.Type), field.Title, field.Description, field.Required, field.Position, field.Config,
	).Scan(&field.ID); err != nil {
		return fmt.Errorf("insert form field: %w", err)
	}
	return nil
}
