package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteParams are applied to every pooled connection. Transactions begin
// IMMEDIATE so check-then-write sequences serialize on the write lock.
const sqliteParams = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+sqliteParams)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS brands (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	from_name     TEXT NOT NULL DEFAULT '',
	from_email    TEXT NOT NULL DEFAULT '',
	smtp_host     TEXT NOT NULL DEFAULT '',
	smtp_port     INTEGER NOT NULL DEFAULT 587,
	smtp_username TEXT NOT NULL DEFAULT '',
	smtp_password TEXT NOT NULL DEFAULT '',
	smtp_tls      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
	id                   TEXT PRIMARY KEY,
	brand_id             TEXT NOT NULL REFERENCES brands(id),
	name                 TEXT NOT NULL,
	target_url           TEXT NOT NULL DEFAULT '',
	keywords             TEXT NOT NULL DEFAULT '[]',
	daily_send_limit     INTEGER NOT NULL DEFAULT 50,
	daily_prospect_limit INTEGER NOT NULL DEFAULT 100,
	daily_email_limit    INTEGER NOT NULL DEFAULT 100,
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	brand_id   TEXT NOT NULL REFERENCES brands(id),
	name       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'main',
	sequence   INTEGER NOT NULL DEFAULT 0,
	delay_days INTEGER NOT NULL DEFAULT 0,
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prospects (
	id            TEXT PRIMARY KEY,
	domain        TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	verified      INTEGER,
	verify_reason TEXT NOT NULL DEFAULT '',
	source_type   TEXT NOT NULL DEFAULT '',
	source_query  TEXT NOT NULL DEFAULT '',
	processed     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id              TEXT PRIMARY KEY,
	prospect_id     TEXT NOT NULL REFERENCES prospects(id),
	address         TEXT NOT NULL,
	source_page     TEXT NOT NULL DEFAULT '',
	is_domain_match INTEGER NOT NULL DEFAULT 0,
	is_generic      INTEGER NOT NULL DEFAULT 0,
	confidence      INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	UNIQUE (prospect_id, address)
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL REFERENCES campaigns(id),
	prospect_id  TEXT NOT NULL REFERENCES prospects(id),
	status       TEXT NOT NULL DEFAULT 'NEW',
	source_type  TEXT NOT NULL DEFAULT '',
	source_query TEXT NOT NULL DEFAULT '',
	found_at     DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (campaign_id, prospect_id)
);

CREATE TABLE IF NOT EXISTS exclusions (
	id       TEXT PRIMARY KEY,
	type     TEXT NOT NULL CHECK (type IN ('domain', 'email')),
	value    TEXT NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	added_at DATETIME NOT NULL,
	UNIQUE (type, value)
);

CREATE TABLE IF NOT EXISTS daily_counters (
	day         TEXT NOT NULL,
	campaign_id TEXT NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('prospects_added', 'emails_found', 'outreach_sent')),
	used        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, campaign_id, kind)
);

CREATE TABLE IF NOT EXISTS queue_items (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL DEFAULT '',
	email_id      TEXT NOT NULL DEFAULT '',
	campaign_id   TEXT NOT NULL DEFAULT '',
	template_id   TEXT NOT NULL DEFAULT '',
	to_address    TEXT NOT NULL,
	subject       TEXT NOT NULL,
	body          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sending', 'sent', 'failed')),
	category      TEXT NOT NULL DEFAULT 'main',
	sequence      INTEGER NOT NULL DEFAULT 0,
	parent_log_id TEXT NOT NULL DEFAULT '',
	scheduled_for DATETIME NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	sent_at       DATETIME,
	created_at    DATETIME NOT NULL,
	CHECK (lead_id <> '' OR email_id <> '')
);

CREATE TABLE IF NOT EXISTS outreach_logs (
	id            TEXT PRIMARY KEY,
	queue_item_id TEXT NOT NULL,
	lead_id       TEXT NOT NULL DEFAULT '',
	email_id      TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	sequence      INTEGER NOT NULL DEFAULT 0,
	parent_log_id TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	sent_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_due ON queue_items(status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_queue_parent ON queue_items(parent_log_id, category);
CREATE INDEX IF NOT EXISTS idx_queue_lead ON queue_items(lead_id);
CREATE INDEX IF NOT EXISTS idx_queue_sent_at ON queue_items(sent_at);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_emails_prospect ON emails(prospect_id);
CREATE INDEX IF NOT EXISTS idx_logs_sent_at ON outreach_logs(category, sent_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Exclusions ---

func (s *SQLiteStore) AddExclusion(ctx context.Context, ex model.Exclusion) (bool, error) {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.AddedAt.IsZero() {
		ex.AddedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO exclusions (`+exclusionCols+`) VALUES (?, ?, ?, ?, ?)`,
		ex.ID, string(ex.Type), ex.Value, ex.Reason, ex.AddedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert exclusion %s", ex.Value)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) AddExclusions(ctx context.Context, exs []model.Exclusion) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin exclusions tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO exclusions (`+exclusionCols+`) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare exclusion insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	added := 0
	for _, ex := range exs {
		res, err := stmt.ExecContext(ctx, uuid.New().String(), string(ex.Type), ex.Value, ex.Reason, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert exclusion %s", ex.Value)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit exclusions")
	}
	return added, nil
}

func (s *SQLiteStore) MatchDomainExclusion(ctx context.Context, values []string, domain string) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(values)+1)
	for _, v := range values {
		args = append(args, v)
	}
	args = append(args, emailDomainPattern(domain))

	query := `SELECT 1 FROM exclusions
		WHERE (type = 'domain' AND value IN (` + placeholders(len(values)) + `))
		   OR (type = 'email' AND value LIKE ? ESCAPE '\')
		LIMIT 1`
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: match domain exclusion %s", domain)
	}
	return true, nil
}

func (s *SQLiteStore) HasEmailExclusion(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM exclusions WHERE type = 'email' AND value = ? LIMIT 1`, email,
	).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: email exclusion %s", email)
	}
	return true, nil
}

func (s *SQLiteStore) ListExclusions(ctx context.Context, typ model.ExclusionType) ([]model.Exclusion, error) {
	query := `SELECT ` + exclusionCols + ` FROM exclusions`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY added_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exclusions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Exclusion
	for rows.Next() {
		ex, err := scanExclusion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exclusion")
		}
		out = append(out, *ex)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate exclusions")
}

// --- Prospects ---

func (s *SQLiteStore) GetOrCreateProspect(ctx context.Context, p model.Prospect) (*model.Prospect, bool, error) {
	now := time.Now().UTC()
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin get-or-create tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO prospects (`+prospectColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, '', ?, ?, 0, ?, ?)`,
		id, p.Domain, p.Name, p.URL, p.City, p.Country, p.SourceType, p.SourceQuery, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert prospect %s", p.Domain)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}

	got, err := scanProspect(tx.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE domain = ?`, p.Domain))
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: read prospect %s", p.Domain)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit get-or-create")
	}
	return got, n > 0, nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(s.db.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("prospect", id)
	}
	return p, eris.Wrapf(err, "sqlite: get prospect %s", id)
}

func (s *SQLiteStore) GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error) {
	p, err := scanProspect(s.db.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE domain = ?`, domain))
	if isNoRows(err) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "sqlite: get prospect by domain %s", domain)
}

func (s *SQLiteStore) SetProspectVerification(ctx context.Context, id string, verified bool, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET verified = ?, verify_reason = ?, updated_at = ? WHERE id = ?`,
		verified, reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set verification %s", id)
	}
	return checkRowsAffected(res, "prospect", id)
}

func (s *SQLiteStore) MarkProspectProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET processed = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark processed %s", id)
	}
	return checkRowsAffected(res, "prospect", id)
}

func (s *SQLiteStore) DeleteProspect(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete prospect tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM queue_items WHERE lead_id IN (SELECT id FROM leads WHERE prospect_id = ?)`,
		`DELETE FROM leads WHERE prospect_id = ?`,
		`DELETE FROM emails WHERE prospect_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return eris.Wrapf(err, "sqlite: cascade delete prospect %s", id)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM prospects WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete prospect %s", id)
	}
	if err := checkRowsAffected(res, "prospect", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete prospect")
}

// --- Emails ---

func (s *SQLiteStore) AddEmail(ctx context.Context, e model.Email) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO emails (`+emailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProspectID, e.Address, e.SourcePage, e.IsDomainMatch, e.IsGeneric, e.Confidence, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert email %s", e.Address)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	e, err := scanEmail(s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("email", id)
	}
	return e, eris.Wrapf(err, "sqlite: get email %s", id)
}

func (s *SQLiteStore) ListEmails(ctx context.Context, prospectID string) ([]model.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE prospect_id = ? ORDER BY `+bestEmailOrder,
		prospectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list emails %s", prospectID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate emails")
}

// bestEmailOrder ranks domain matches first, then personal addresses, then confidence.
const bestEmailOrder = `is_domain_match DESC, is_generic ASC, confidence DESC, created_at ASC`

func (s *SQLiteStore) GetBestEmail(ctx context.Context, prospectID string) (*model.Email, error) {
	e, err := scanEmail(s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE prospect_id = ? ORDER BY `+bestEmailOrder+` LIMIT 1`,
		prospectID,
	))
	if isNoRows(err) {
		return nil, nil
	}
	return e, eris.Wrapf(err, "sqlite: best email %s", prospectID)
}

// helpers

// execContexter is satisfied by *sql.DB and *sql.Tx.
type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}
