package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS brands (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	from_name     TEXT NOT NULL DEFAULT '',
	from_email    TEXT NOT NULL DEFAULT '',
	smtp_host     TEXT NOT NULL DEFAULT '',
	smtp_port     INTEGER NOT NULL DEFAULT 587,
	smtp_username TEXT NOT NULL DEFAULT '',
	smtp_password TEXT NOT NULL DEFAULT '',
	smtp_tls      BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
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
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prospects (
	id            TEXT PRIMARY KEY,
	domain        TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	verified      BOOLEAN,
	verify_reason TEXT NOT NULL DEFAULT '',
	source_type   TEXT NOT NULL DEFAULT '',
	source_query  TEXT NOT NULL DEFAULT '',
	processed     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS emails (
	id              TEXT PRIMARY KEY,
	prospect_id     TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	address         TEXT NOT NULL,
	source_page     TEXT NOT NULL DEFAULT '',
	is_domain_match BOOLEAN NOT NULL DEFAULT false,
	is_generic      BOOLEAN NOT NULL DEFAULT false,
	confidence      INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (prospect_id, address)
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL REFERENCES campaigns(id),
	prospect_id  TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	status       TEXT NOT NULL DEFAULT 'NEW',
	source_type  TEXT NOT NULL DEFAULT '',
	source_query TEXT NOT NULL DEFAULT '',
	found_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_id, prospect_id)
);

CREATE TABLE IF NOT EXISTS exclusions (
	id       TEXT PRIMARY KEY,
	type     TEXT NOT NULL CHECK (type IN ('domain', 'email')),
	value    TEXT NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	scheduled_for TIMESTAMPTZ NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	sent_at       TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	sent_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_due ON queue_items(status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_queue_parent ON queue_items(parent_log_id, category);
CREATE INDEX IF NOT EXISTS idx_queue_lead ON queue_items(lead_id);
CREATE INDEX IF NOT EXISTS idx_queue_sent_at ON queue_items(sent_at);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_emails_prospect ON emails(prospect_id);
CREATE INDEX IF NOT EXISTS idx_logs_sent_at ON outreach_logs(category, sent_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Exclusions ---

func (s *PostgresStore) AddExclusion(ctx context.Context, ex model.Exclusion) (bool, error) {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.AddedAt.IsZero() {
		ex.AddedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO exclusions (`+exclusionCols+`) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (type, value) DO NOTHING`,
		ex.ID, string(ex.Type), ex.Value, ex.Reason, ex.AddedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert exclusion %s", ex.Value)
	}
	return tag.RowsAffected() > 0, nil
}

// AddExclusions bulk-loads exclusions through COPY; existing entries keep their reason.
func (s *PostgresStore) AddExclusions(ctx context.Context, exs []model.Exclusion) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(exs))
	for i, ex := range exs {
		rows[i] = []any{uuid.New().String(), string(ex.Type), ex.Value, ex.Reason, now}
	}
	n, err := db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        "exclusions",
		Columns:      []string{"id", "type", "value", "reason", "added_at"},
		ConflictKeys: []string{"type", "value"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk insert exclusions")
	}
	return int(n), nil
}

func (s *PostgresStore) MatchDomainExclusion(ctx context.Context, values []string, domain string) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	var matched bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exclusions
			WHERE (type = 'domain' AND value = ANY($1))
			   OR (type = 'email' AND value LIKE $2 ESCAPE '\'))`,
		values, emailDomainPattern(domain),
	).Scan(&matched)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: match domain exclusion %s", domain)
	}
	return matched, nil
}

func (s *PostgresStore) HasEmailExclusion(ctx context.Context, email string) (bool, error) {
	var matched bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exclusions WHERE type = 'email' AND value = $1)`, email,
	).Scan(&matched)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: email exclusion %s", email)
	}
	return matched, nil
}

func (s *PostgresStore) ListExclusions(ctx context.Context, typ model.ExclusionType) ([]model.Exclusion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+exclusionCols+` FROM exclusions WHERE ($1 = '' OR type = $1) ORDER BY added_at DESC`,
		string(typ),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exclusions")
	}
	defer rows.Close()

	var out []model.Exclusion
	for rows.Next() {
		ex, err := scanExclusion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan exclusion")
		}
		out = append(out, *ex)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate exclusions")
}

// --- Prospects ---

func (s *PostgresStore) GetOrCreateProspect(ctx context.Context, p model.Prospect) (*model.Prospect, bool, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin get-or-create tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO prospects (`+prospectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, '', $7, $8, false, $9, $9)
		ON CONFLICT (domain) DO NOTHING`,
		uuid.New().String(), p.Domain, p.Name, p.URL, p.City, p.Country, p.SourceType, p.SourceQuery, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert prospect %s", p.Domain)
	}

	got, err := scanProspect(tx.QueryRow(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE domain = $1`, p.Domain))
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: read prospect %s", p.Domain)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit get-or-create")
	}
	return got, tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("prospect", id)
	}
	return p, eris.Wrapf(err, "postgres: get prospect %s", id)
}

func (s *PostgresStore) GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE domain = $1`, domain))
	if isNoRows(err) {
		return nil, nil
	}
	return p, eris.Wrapf(err, "postgres: get prospect by domain %s", domain)
}

func (s *PostgresStore) SetProspectVerification(ctx context.Context, id string, verified bool, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET verified = $1, verify_reason = $2, updated_at = $3 WHERE id = $4`,
		verified, reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set verification %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("prospect", id)
	}
	return nil
}

func (s *PostgresStore) MarkProspectProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET processed = true, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark processed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("prospect", id)
	}
	return nil
}

func (s *PostgresStore) DeleteProspect(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin delete prospect tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM queue_items WHERE lead_id IN (SELECT id FROM leads WHERE prospect_id = $1)`, id,
	); err != nil {
		return eris.Wrapf(err, "postgres: delete queue items for prospect %s", id)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM prospects WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete prospect %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("prospect", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit delete prospect")
}

// --- Emails ---

func (s *PostgresStore) AddEmail(ctx context.Context, e model.Email) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO emails (`+emailColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (prospect_id, address) DO NOTHING`,
		e.ID, e.ProspectID, e.Address, e.SourcePage, e.IsDomainMatch, e.IsGeneric, e.Confidence, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert email %s", e.Address)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("email", id)
	}
	return e, eris.Wrapf(err, "postgres: get email %s", id)
}

func (s *PostgresStore) ListEmails(ctx context.Context, prospectID string) ([]model.Email, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE prospect_id = $1 ORDER BY `+bestEmailOrder, prospectID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list emails %s", prospectID)
	}
	defer rows.Close()

	var out []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate emails")
}

func (s *PostgresStore) GetBestEmail(ctx context.Context, prospectID string) (*model.Email, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE prospect_id = $1 ORDER BY `+bestEmailOrder+` LIMIT 1`,
		prospectID))
	if isNoRows(err) {
		return nil, nil
	}
	return e, eris.Wrapf(err, "postgres: best email %s", prospectID)
}
