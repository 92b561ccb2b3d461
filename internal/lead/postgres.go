package lead

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/db"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore creates a PostgresStore on an existing pool. closeFn may
// be nil when the caller owns the pool lifecycle (tests).
func NewPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	email_normalized   TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	phone_normalized   TEXT NOT NULL DEFAULT '',
	message            TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'new',
	priority           INT NOT NULL DEFAULT 0,
	touches            INT NOT NULL DEFAULT 1,
	context            JSONB,
	intent_score       INT NOT NULL DEFAULT 0,
	intent_focus       TEXT NOT NULL DEFAULT '',
	intent_reasoning   TEXT NOT NULL DEFAULT '',
	intent_project_ids JSONB,
	intent_next_action TEXT NOT NULL DEFAULT '',
	last_seen_at       TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_leads_tenant_email
	ON leads (tenant_id, email_normalized) WHERE email_normalized <> '';
CREATE UNIQUE INDEX IF NOT EXISTS ux_leads_tenant_phone
	ON leads (tenant_id, phone_normalized) WHERE phone_normalized <> '';
CREATE INDEX IF NOT EXISTS ix_leads_tenant_seen
	ON leads (tenant_id, last_seen_at DESC);
`

// Migrate creates the leads schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "lead: migrate")
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const leadColumns = `id, tenant_id, name, email, email_normalized, phone, phone_normalized,
	message, source, status, priority, touches, context,
	intent_score, intent_focus, intent_reasoning, intent_project_ids, intent_next_action,
	last_seen_at, created_at, updated_at`

func leadDests(l *Lead, projects *[]byte) []any {
	return []any{
		&l.ID, &l.TenantID, &l.Name, &l.Email, &l.EmailNormalized, &l.Phone, &l.PhoneNormalized,
		&l.Message, &l.Source, &l.Status, &l.Priority, &l.Touches, &l.Context,
		&l.IntentScore, &l.IntentFocus, &l.IntentReasoning, projects, &l.IntentAction,
		&l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt,
	}
}

func decodeProjects(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

func encodeProjects(ids []string) []byte {
	if len(ids) == 0 {
		return nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return raw
}

// setCreateDefaults fills the fields a fresh lead row must carry.
func setCreateDefaults(l *Lead) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}
	if l.LastSeenAt.IsZero() {
		l.LastSeenAt = l.CreatedAt
	}
	if l.Touches == 0 {
		l.Touches = 1
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
}

// CreateIfAbsent inserts the lead conditionally on its normalized identity.
// ON CONFLICT DO NOTHING covers both partial unique indexes, so a concurrent
// insert for the same email or phone silently loses and reports created=false.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, l *Lead) (bool, error) {
	setCreateDefaults(l)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leads (
			id, tenant_id, name, email, email_normalized, phone, phone_normalized,
			message, source, status, priority, touches, context,
			intent_score, intent_focus, intent_reasoning, intent_project_ids, intent_next_action,
			last_seen_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21
		) ON CONFLICT DO NOTHING`,
		l.ID, l.TenantID, l.Name, l.Email, l.EmailNormalized, l.Phone, l.PhoneNormalized,
		l.Message, l.Source, l.Status, l.Priority, l.Touches, l.Context,
		l.IntentScore, l.IntentFocus, l.IntentReasoning, encodeProjects(l.IntentProjects), l.IntentAction,
		l.LastSeenAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "lead: insert")
	}
	return tag.RowsAffected() == 1, nil
}

var leadInsertColumns = []string{
	"id", "tenant_id", "name", "email", "email_normalized", "phone", "phone_normalized",
	"message", "source", "status", "priority", "touches", "context",
	"intent_score", "intent_focus", "intent_reasoning", "intent_project_ids", "intent_next_action",
	"last_seen_at", "created_at", "updated_at",
}

// BulkImport loads pre-normalized leads in one COPY batch, for seeding a
// tenant from a CRM export. Rows whose email or phone already belongs to a
// lead are skipped, not merged; live signals go through CreateIfAbsent one at
// a time. Returns how many rows landed.
func (s *PostgresStore) BulkImport(ctx context.Context, leads []Lead) (int64, error) {
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		setCreateDefaults(l)
		rows = append(rows, []any{
			l.ID, l.TenantID, l.Name, l.Email, l.EmailNormalized, l.Phone, l.PhoneNormalized,
			l.Message, string(l.Source), string(l.Status), l.Priority, l.Touches, l.Context,
			l.IntentScore, l.IntentFocus, l.IntentReasoning, encodeProjects(l.IntentProjects), l.IntentAction,
			l.LastSeenAt, l.CreatedAt, l.UpdatedAt,
		})
	}

	n, err := db.BulkInsert(ctx, s.pool, "leads", leadInsertColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "lead: bulk import")
	}
	return n, nil
}

// Touch applies a merge patch to an existing lead. Touches is bumped from the
// stored value so concurrent touches each count, whichever order they land in.
func (s *PostgresStore) Touch(ctx context.Context, tenantID, id string, u TouchUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leads SET
			name=$3, email=$4, email_normalized=$5, phone=$6, phone_normalized=$7,
			message=$8, context=$9,
			intent_score=$10, intent_focus=$11, intent_reasoning=$12,
			intent_project_ids=$13, intent_next_action=$14,
			touches = touches + 1,
			last_seen_at=$15, updated_at=$16
		WHERE tenant_id=$1 AND id=$2`,
		tenantID, id,
		u.Name, u.Email, u.EmailNormalized, u.Phone, u.PhoneNormalized,
		u.Message, u.Context,
		u.IntentScore, u.IntentFocus, u.IntentReasoning,
		encodeProjects(u.IntentProjects), u.IntentAction,
		u.LastSeenAt, u.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "lead: touch %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead: touch %s: not found", id)
	}
	return nil
}

// Get fetches a lead by id within a tenant.
func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Lead, error) {
	return s.queryOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE tenant_id=$1 AND id=$2`, tenantID, id)
}

// FindByEmail fetches a lead by normalized email within a tenant.
func (s *PostgresStore) FindByEmail(ctx context.Context, tenantID, emailNormalized string) (*Lead, error) {
	return s.queryOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE tenant_id=$1 AND email_normalized=$2`, tenantID, emailNormalized)
}

// FindByPhone fetches a lead by normalized phone within a tenant.
func (s *PostgresStore) FindByPhone(ctx context.Context, tenantID, phoneNormalized string) (*Lead, error) {
	return s.queryOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE tenant_id=$1 AND phone_normalized=$2`, tenantID, phoneNormalized)
}

func (s *PostgresStore) queryOne(ctx context.Context, sql string, args ...any) (*Lead, error) {
	l := &Lead{}
	var projects []byte
	err := s.pool.QueryRow(ctx, sql, args...).Scan(leadDests(l, &projects)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "lead: query")
	}
	l.IntentProjects = decodeProjects(projects)
	return l, nil
}

// List returns leads for a tenant, newest activity first.
func (s *PostgresStore) List(ctx context.Context, tenantID string, f ListFilter) ([]Lead, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	sql := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id=$1`
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		sql += ` AND status=$` + strconv.Itoa(len(args))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		sql += ` AND source=$` + strconv.Itoa(len(args))
	}
	if f.MinScore > 0 {
		args = append(args, f.MinScore)
		sql += ` AND intent_score >= $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, f.Offset)
	sql += ` ORDER BY last_seen_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "lead: list")
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var l Lead
		var projects []byte
		if err := rows.Scan(leadDests(&l, &projects)...); err != nil {
			return nil, eris.Wrap(err, "lead: scan")
		}
		l.IntentProjects = decodeProjects(projects)
		leads = append(leads, l)
	}
	return leads, rows.Err()
}
