package lead

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the dev-mode
// driver; production deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := d.Exec(pragma); err != nil {
			d.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: d}, nil
}

const sqliteMigration = `
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
	priority           INTEGER NOT NULL DEFAULT 0,
	touches            INTEGER NOT NULL DEFAULT 1,
	context            TEXT,
	intent_score       INTEGER NOT NULL DEFAULT 0,
	intent_focus       TEXT NOT NULL DEFAULT '',
	intent_reasoning   TEXT NOT NULL DEFAULT '',
	intent_project_ids TEXT,
	intent_next_action TEXT NOT NULL DEFAULT '',
	last_seen_at       DATETIME NOT NULL,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_leads_tenant_email
	ON leads(tenant_id, email_normalized) WHERE email_normalized <> '';
CREATE UNIQUE INDEX IF NOT EXISTS ux_leads_tenant_phone
	ON leads(tenant_id, phone_normalized) WHERE phone_normalized <> '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_seen ON leads(tenant_id, last_seen_at);
`

// Migrate creates the leads schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateIfAbsent inserts the lead conditionally on its normalized identity.
func (s *SQLiteStore) CreateIfAbsent(ctx context.Context, l *Lead) (bool, error) {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (
			id, tenant_id, name, email, email_normalized, phone, phone_normalized,
			message, source, status, priority, touches, context,
			intent_score, intent_focus, intent_reasoning, intent_project_ids, intent_next_action,
			last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		l.ID, l.TenantID, l.Name, l.Email, l.EmailNormalized, l.Phone, l.PhoneNormalized,
		l.Message, string(l.Source), string(l.Status), l.Priority, l.Touches, nullableText(l.Context),
		l.IntentScore, l.IntentFocus, l.IntentReasoning, nullableText(encodeProjects(l.IntentProjects)), l.IntentAction,
		l.LastSeenAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert lead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// Touch applies a merge patch to an existing lead.
func (s *SQLiteStore) Touch(ctx context.Context, tenantID, id string, u TouchUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			name=?, email=?, email_normalized=?, phone=?, phone_normalized=?,
			message=?, context=?,
			intent_score=?, intent_focus=?, intent_reasoning=?,
			intent_project_ids=?, intent_next_action=?,
			touches = touches + 1,
			last_seen_at=?, updated_at=?
		WHERE tenant_id=? AND id=?`,
		u.Name, u.Email, u.EmailNormalized, u.Phone, u.PhoneNormalized,
		u.Message, nullableText(u.Context),
		u.IntentScore, u.IntentFocus, u.IntentReasoning,
		nullableText(encodeProjects(u.IntentProjects)), u.IntentAction,
		u.LastSeenAt, u.UpdatedAt,
		tenantID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch lead %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: touch lead %s: not found", id)
	}
	return nil
}

const sqliteLeadColumns = `id, tenant_id, name, email, email_normalized, phone, phone_normalized,
	message, source, status, priority, touches, context,
	intent_score, intent_focus, intent_reasoning, intent_project_ids, intent_next_action,
	last_seen_at, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLead(row scannable) (*Lead, error) {
	var l Lead
	var contextJSON, projectsJSON sql.NullString
	err := row.Scan(
		&l.ID, &l.TenantID, &l.Name, &l.Email, &l.EmailNormalized, &l.Phone, &l.PhoneNormalized,
		&l.Message, &l.Source, &l.Status, &l.Priority, &l.Touches, &contextJSON,
		&l.IntentScore, &l.IntentFocus, &l.IntentReasoning, &projectsJSON, &l.IntentAction,
		&l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	if contextJSON.Valid {
		l.Context = []byte(contextJSON.String)
	}
	if projectsJSON.Valid {
		l.IntentProjects = decodeProjects([]byte(projectsJSON.String))
	}
	return &l, nil
}

// Get fetches a lead by id within a tenant.
func (s *SQLiteStore) Get(ctx context.Context, tenantID, id string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanSQLiteLead(row)
}

// FindByEmail fetches a lead by normalized email within a tenant.
func (s *SQLiteStore) FindByEmail(ctx context.Context, tenantID, emailNormalized string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE tenant_id=? AND email_normalized=?`, tenantID, emailNormalized)
	return scanSQLiteLead(row)
}

// FindByPhone fetches a lead by normalized phone within a tenant.
func (s *SQLiteStore) FindByPhone(ctx context.Context, tenantID, phoneNormalized string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE tenant_id=? AND phone_normalized=?`, tenantID, phoneNormalized)
	return scanSQLiteLead(row)
}

// List returns leads for a tenant, newest activity first.
func (s *SQLiteStore) List(ctx context.Context, tenantID string, f ListFilter) ([]Lead, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + sqliteLeadColumns + ` FROM leads WHERE tenant_id=?`)
	args := []any{tenantID}

	if f.Status != "" {
		b.WriteString(` AND status=?`)
		args = append(args, string(f.Status))
	}
	if f.Source != "" {
		b.WriteString(` AND source=?`)
		args = append(args, string(f.Source))
	}
	if f.MinScore > 0 {
		b.WriteString(` AND intent_score >= ?`)
		args = append(args, f.MinScore)
	}
	b.WriteString(` ORDER BY last_seen_at DESC LIMIT ?`)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	if f.Offset > 0 {
		b.WriteString(` OFFSET ?`)
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func nullableText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
