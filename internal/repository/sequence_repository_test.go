package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

var sequenceRowColumns = []string{"id", "prefix", "counter", "width", "created_at"}

func TestSequenceNextIncrementsAtomically(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sequence_indices SET counter = counter + 1 WHERE id = $1 RETURNING id, prefix, counter, width, created_at")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(sequenceRowColumns).AddRow(1, "INC", 8, 6, time.Now()))

	index, err := repo.Next(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "INC_000008", index.Format(index.Counter))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceNextMissingIndex(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sequence_indices SET counter = counter + 1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(sequenceRowColumns))

	_, err := repo.Next(context.Background(), 99)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceCountCodesUsesEscapedPattern(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	index := models.SequenceIndex{Prefix: "INC"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM incidents WHERE code LIKE $1")).
		WithArgs(`INC\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountCodes(context.Background(), index.CodePattern())
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceCreateDefaultsWidth(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sequence_indices (prefix, counter, width, created_at)")).
		WithArgs("MNT", int64(0), models.DefaultSequenceWidth, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

	index := &models.SequenceIndex{Prefix: "MNT"}
	require.NoError(t, repo.Create(context.Background(), index))
	assert.Equal(t, int64(2), index.ID)
	assert.Equal(t, "MNT_000001", index.NextPreview())
	assert.NoError(t, mock.ExpectationsWereMet())
}
