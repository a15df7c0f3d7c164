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

// SequenceRepository persists incident code prefixes and their counters.
type SequenceRepository struct {
	db *sqlx.DB
}

// NewSequenceRepository constructs a SequenceRepository.
func NewSequenceRepository(db *sqlx.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

const sequenceColumns = `id, prefix, counter, width, created_at`

// List returns every index ordered by prefix.
func (r *SequenceRepository) List(ctx context.Context) ([]models.SequenceIndex, error) {
	var items []models.SequenceIndex
	if err := r.db.SelectContext(ctx, &items, `SELECT `+sequenceColumns+` FROM sequence_indices ORDER BY prefix`); err != nil {
		return nil, fmt.Errorf("list sequence indices: %w", err)
	}
	return items, nil
}

// FindByID returns one index.
func (r *SequenceRepository) FindByID(ctx context.Context, id int64) (*models.SequenceIndex, error) {
	var item models.SequenceIndex
	if err := r.db.GetContext(ctx, &item, `SELECT `+sequenceColumns+` FROM sequence_indices WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find sequence index: %w", err)
	}
	return &item, nil
}

// Create inserts an index with counter 0.
func (r *SequenceRepository) Create(ctx context.Context, item *models.SequenceIndex) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Width <= 0 {
		item.Width = models.DefaultSequenceWidth
	}
	const query = `INSERT INTO sequence_indices (prefix, counter, width, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, item.Prefix, item.Counter, item.Width, item.CreatedAt).Scan(&item.ID); err != nil {
		return fmt.Errorf("create sequence index: %w", err)
	}
	return nil
}

// Update changes prefix and width; the counter is never rewound here.
func (r *SequenceRepository) Update(ctx context.Context, item *models.SequenceIndex) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sequence_indices SET prefix = $2, width = $3 WHERE id = $1`, item.ID, item.Prefix, item.Width)
	if err != nil {
		return fmt.Errorf("update sequence index: %w", err)
	}
	return requireAffected(res)
}

// Delete removes an index.
func (r *SequenceRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sequence_indices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sequence index: %w", err)
	}
	return requireAffected(res)
}

// CountCodes counts incidents whose code matches the LIKE pattern.
func (r *SequenceRepository) CountCodes(ctx context.Context, pattern string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM incidents WHERE code LIKE $1`, pattern); err != nil {
		return 0, fmt.Errorf("count incident codes: %w", err)
	}
	return total, nil
}

// Next atomically increments the counter and returns the updated index. The UPDATE takes a row
// lock, so concurrent callers on the same prefix are serialised and never observe the same value.
func (r *SequenceRepository) Next(ctx context.Context, id int64) (*models.SequenceIndex, error) {
	return advanceSequence(ctx, r.db, id)
}

func advanceSequence(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.SequenceIndex, error) {
	const query = `UPDATE sequence_indices SET counter = counter + 1 WHERE id = $1 RETURNING ` + sequenceColumns
	var item models.SequenceIndex
	if err := sqlx.GetContext(ctx, q, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("advance sequence index: %w", err)
	}
	return &item, nil
}
