package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

const responseSelect = `SELECT fr.id, fr.template_id, t.name AS template_name, t.description AS template_description,
fr.submitted_by, COALESCE(u.full_name, '') AS submitter_name, fr.submitted_at, fr.status, fr.pdf_path
FROM form_responses fr
JOIN form_templates t ON t.id = fr.template_id
LEFT JOIN users u ON u.id = fr.submitted_by`

const answerColumns = `id, response_id, field_id, text_value, date_value, file_value, json_value, signer_name, signer_document, signer_phone, signer_company, signer_title`

// AnswerBuilder produces the field answers once the response id is known. Returning an error
// aborts the whole submission.
type AnswerBuilder func(responseID int64) ([]models.FieldResponse, error)

// FormResponseRepository persists form submissions and their answers.
type FormResponseRepository struct {
	db *sqlx.DB
}

// NewFormResponseRepository constructs a FormResponseRepository.
func NewFormResponseRepository(db *sqlx.DB) *FormResponseRepository {
	return &FormResponseRepository{db: db}
}

// CreateResponse inserts the response, asks build for the answers and inserts them, all inside
// one transaction. Nothing is persisted unless every step succeeds.
func (r *FormResponseRepository) CreateResponse(ctx context.Context, resp *models.FormResponse, build AnswerBuilder) (err error) {
	if resp.SubmittedAt.IsZero() {
		resp.SubmittedAt = time.Now().UTC()
	}
	if resp.Status == "" {
		resp.Status = models.ResponseCompleted
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin form response tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO form_responses (template_id, submitted_by, submitted_at, status) VALUES ($1, $2, $3, $4) RETURNING id`
	if err = tx.QueryRowxContext(ctx, query, resp.TemplateID, resp.SubmittedBy, resp.SubmittedAt, resp.Status).Scan(&resp.ID); err != nil {
		return fmt.Errorf("insert form response: %w", err)
	}

	answers, err := build(resp.ID)
	if err != nil {
		return err
	}
	for i := range answers {
		answers[i].ResponseID = resp.ID
		if err = insertAnswer(ctx, tx, &answers[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit form response: %w", err)
	}
	resp.Answers = answers
	return nil
}

// FindByID returns the response and its answers.
func (r *FormResponseRepository) FindByID(ctx context.Context, id int64) (*models.FormResponse, error) {
	var resp models.FormResponse
	if err := r.db.GetContext(ctx, &resp, responseSelect+` WHERE fr.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find form response: %w", err)
	}
	answers, err := r.ListAnswers(ctx, id)
	if err != nil {
		return nil, err
	}
	resp.Answers = answers
	return &resp, nil
}

// ListAnswers returns the stored answers of a response.
func (r *FormResponseRepository) ListAnswers(ctx context.Context, responseID int64) ([]models.FieldResponse, error) {
	var answers []models.FieldResponse
	if err := r.db.SelectContext(ctx, &answers, `SELECT `+answerColumns+` FROM field_responses WHERE response_id = $1 ORDER BY id`, responseID); err != nil {
		return nil, fmt.Errorf("list field responses: %w", err)
	}
	return answers, nil
}

// List returns one page of responses, newest first.
func (r *FormResponseRepository) List(ctx context.Context, filter models.ResponseFilter) ([]models.FormResponse, int, error) {
	var conditions []string
	var args []interface{}
	if filter.TemplateID != nil {
		conditions = append(conditions, fmt.Sprintf("fr.template_id = $%d", len(args)+1))
		args = append(args, *filter.TemplateID)
	}
	if filter.SubmittedBy != nil {
		conditions = append(conditions, fmt.Sprintf("fr.submitted_by = $%d", len(args)+1))
		args = append(args, *filter.SubmittedBy)
	}
	where := " WHERE 1=1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}
	_, pageSize, offset := paginate(filter.Page, filter.PageSize, 20)

	listQuery := fmt.Sprintf("%s%s ORDER BY fr.submitted_at DESC, fr.id DESC LIMIT %d OFFSET %d", responseSelect, where, pageSize, offset)
	var responses []models.FormResponse
	if err := r.db.SelectContext(ctx, &responses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list form responses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM form_responses fr"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count form responses: %w", err)
	}
	return responses, total, nil
}

// SetPDFPath records (or clears, with nil) the stored PDF location.
func (r *FormResponseRepository) SetPDFPath(ctx context.Context, id int64, path *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE form_responses SET pdf_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("set form response pdf path: %w", err)
	}
	return requireAffected(res)
}

func insertAnswer(ctx context.Context, tx *sqlx.Tx, answer *models.FieldResponse) error {
	const query = `INSERT INTO field_responses (response_id, field_id, text_value, date_value, file_value, json_value, signer_name, signer_document, signer_phone, signer_company, signer_title)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	if err := tx.QueryRowxContext(ctx, query,
		answer.ResponseID, answer.FieldID, answer.TextValue, answer.DateValue, answer.FileValue, jsonArg(answer.JSONValue),
		answer.Name, answer.Document, answer.Phone, answer.Company, answer.Title,
	).Scan(&answer.ID); err != nil {
		return fmt.Errorf("insert field response: %w", err)
	}
	return nil
}

func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
