package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/db"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
	status      TEXT NOT NULL DEFAULT 'queued',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	run_at      TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS ix_jobs_claim ON jobs (status, run_at);
CREATE INDEX IF NOT EXISTS ix_jobs_tenant ON jobs (tenant_id, created_at DESC);
`

// PostgresStore is the production job queue. Claims ride on
// FOR UPDATE SKIP LOCKED, so concurrent workers never double-claim.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the jobs schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "jobs: migrate")
	}
	return nil
}

// Enqueue inserts a queued job, filling defaults for zero fields.
func (s *PostgresStore) Enqueue(ctx context.Context, j *Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, tenant_id, kind, payload, status, attempts, last_error, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.TenantID, j.Kind, j.Payload, j.Status, j.Attempts, j.LastError,
		j.RunAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: enqueue %s", j.ID)
	}
	return nil
}

// Claim atomically selects up to limit due queued jobs and marks them
// running. Rows locked by another worker's in-flight claim are skipped, not
// waited on.
func (s *PostgresStore) Claim(ctx context.Context, limit int) ([]Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: begin claim")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, kind, payload, status, attempts, last_error, run_at, created_at, updated_at
		FROM jobs
		WHERE status = 'queued' AND run_at <= now()
		ORDER BY run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: claim query")
	}
	claimed, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	if len(claimed) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil
	}

	ids := make([]string, len(claimed))
	for i := range claimed {
		ids[i] = claimed[i].ID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id = ANY($1)`,
		ids,
	); err != nil {
		return nil, eris.Wrap(err, "jobs: mark running")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "jobs: commit claim")
	}

	for i := range claimed {
		claimed[i].Status = StatusRunning
		claimed[i].Attempts++
	}
	return claimed, nil
}

// MarkDone finishes a running job successfully.
func (s *PostgresStore) MarkDone(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'done', last_error = '', updated_at = now(), finished_at = now()
		WHERE id = $1 AND status = 'running'`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: mark done %s", id)
	}
	return nil
}

// MarkError finishes a running job with a failure message.
func (s *PostgresStore) MarkError(ctx context.Context, id, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'error', last_error = $2, updated_at = now(), finished_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, msg,
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: mark error %s", id)
	}
	return nil
}

// Cancel withdraws a job that has not started.
func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = now(), finished_at = now()
		WHERE id = $1 AND status = 'queued'`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "jobs: cancel %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("jobs: cancel %s: not queued", id)
	}
	return nil
}

// Get fetches a job by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, kind, payload, status, attempts, last_error, run_at, created_at, updated_at
		FROM jobs
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: get %s", id)
	}
	out, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.Kind, &j.Payload, &j.Status,
			&j.Attempts, &j.LastError, &j.RunAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "jobs: scan row")
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "jobs: iterate rows")
	}
	return out, nil
}
