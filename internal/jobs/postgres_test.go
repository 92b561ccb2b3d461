package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresMigration_ClaimIndex(t *testing.T) {
	assert.Contains(t, postgresMigration, "ix_jobs_claim")
	assert.Contains(t, postgresMigration, "status, run_at")
}

func TestPostgresStore_Enqueue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("j1", "t1", KindCampaignDispatch, []byte(`{}`), StatusQueued, 0, "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresStore(mock)
	j := &Job{ID: "j1", TenantID: "t1", Kind: KindCampaignDispatch, Payload: []byte(`{}`)}
	require.NoError(t, s.Enqueue(context.Background(), j))
	assert.Equal(t, StatusQueued, j.Status)
	assert.False(t, j.RunAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jobRows(ids ...string) *pgxmock.Rows {
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "kind", "payload", "status", "attempts",
		"last_error", "run_at", "created_at", "updated_at",
	})
	for _, id := range ids {
		rows.AddRow(id, "t1", KindCampaignDispatch, []byte(`{}`), StatusQueued, 0, "", now, now, now)
	}
	return rows
}

func TestPostgresStore_Claim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WithArgs(5).
		WillReturnRows(jobRows("j1", "j2"))
	mock.ExpectExec("UPDATE jobs").
		WithArgs([]string{"j1", "j2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	s := NewPostgresStore(mock)
	claimed, err := s.Claim(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, j := range claimed {
		assert.Equal(t, StatusRunning, j.Status)
		assert.Equal(t, 1, j.Attempts)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WithArgs(5).
		WillReturnRows(jobRows())
	mock.ExpectCommit()

	s := NewPostgresStore(mock)
	claimed, err := s.Claim(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Cancel_NotQueued(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := NewPostgresStore(mock)
	err = s.Cancel(context.Background(), "j1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not queued")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s := NewPostgresStore(mock)
	require.NoError(t, s.MarkDone(context.Background(), "j1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
