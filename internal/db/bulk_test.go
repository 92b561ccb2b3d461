package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "tenant_id", "email_normalized"}
	rows := [][]any{
		{"l1", "t1", "a@b.com"},
		{"l2", "t1", "b@b.com"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_bulk_leads"}, cols).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "leads" (.+) ON CONFLICT DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkInsert(context.Background(), mock, "leads", cols, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsert_ConflictsReduceTheCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "tenant_id", "email_normalized"}
	rows := [][]any{
		{"l1", "t1", "a@b.com"},
		{"l2", "t1", "taken@b.com"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_bulk_leads"}, cols).
		WillReturnResult(2)
	// One row skipped by ON CONFLICT DO NOTHING.
	mock.ExpectExec(`INSERT INTO "leads"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkInsert(context.Background(), mock, "leads", cols, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsert_EmptyBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := BulkInsert(context.Background(), mock, "leads", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsert_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_bulk_leads"}, cols).
		WillReturnError(eris.New("connection reset"))
	mock.ExpectRollback()

	_, err = BulkInsert(context.Background(), mock, "leads", cols, [][]any{{"l1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}
