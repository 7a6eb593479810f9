package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// --- Brands, campaigns, templates ---

func (s *PostgresStore) SaveBrand(ctx context.Context, b *model.Brand) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brands (`+brandColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, from_name = EXCLUDED.from_name,
			from_email = EXCLUDED.from_email, smtp_host = EXCLUDED.smtp_host, smtp_port = EXCLUDED.smtp_port,
			smtp_username = EXCLUDED.smtp_username, smtp_password = EXCLUDED.smtp_password, smtp_tls = EXCLUDED.smtp_tls`,
		b.ID, b.Name, b.FromName, b.FromEmail, b.SMTP.Host, b.SMTP.Port, b.SMTP.Username, b.SMTP.Password, b.SMTP.UseTLS, b.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save brand %s", b.ID)
}

func (s *PostgresStore) GetBrand(ctx context.Context, id string) (*model.Brand, error) {
	b, err := scanBrand(s.pool.QueryRow(ctx, `SELECT `+brandColumns+` FROM brands WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("brand", id)
	}
	return b, eris.Wrapf(err, "postgres: get brand %s", id)
}

func (s *PostgresStore) SaveCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	keywords, err := encodeKeywords(c.Keywords)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET brand_id = EXCLUDED.brand_id, name = EXCLUDED.name,
			target_url = EXCLUDED.target_url, keywords = EXCLUDED.keywords,
			daily_send_limit = EXCLUDED.daily_send_limit, daily_prospect_limit = EXCLUDED.daily_prospect_limit,
			daily_email_limit = EXCLUDED.daily_email_limit`,
		c.ID, c.BrandID, c.Name, c.TargetURL, keywords, c.Limits.DailySendLimit,
		c.Limits.DailyProspectLimit, c.Limits.DailyEmailLimit, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save campaign %s", c.ID)
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("campaign", id)
	}
	return c, eris.Wrapf(err, "postgres: get campaign %s", id)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate campaigns")
}

func (s *PostgresStore) SaveTemplate(ctx context.Context, t *model.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO templates (`+templateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET brand_id = EXCLUDED.brand_id, name = EXCLUDED.name,
			category = EXCLUDED.category, sequence = EXCLUDED.sequence, delay_days = EXCLUDED.delay_days,
			subject = EXCLUDED.subject, body = EXCLUDED.body, active = EXCLUDED.active`,
		t.ID, t.BrandID, t.Name, t.Category, t.Sequence, t.DelayDays, t.Subject, t.Body, t.Active, t.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save template %s", t.ID)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("template", id)
	}
	return t, eris.Wrapf(err, "postgres: get template %s", id)
}

func (s *PostgresStore) ListFollowUpTemplates(ctx context.Context, brandID string) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM templates
		WHERE brand_id = $1 AND active AND category LIKE 'followup\_%'
		ORDER BY sequence ASC, category ASC`,
		brandID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list follow-up templates %s", brandID)
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate templates")
}

// --- Leads ---

func (s *PostgresStore) CreateLead(ctx context.Context, l model.Lead) (*model.Lead, bool, error) {
	now := time.Now().UTC()
	if l.Status == "" {
		l.Status = model.LeadNew
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin create lead tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (campaign_id, prospect_id) DO NOTHING`,
		uuid.New().String(), l.CampaignID, l.ProspectID, string(l.Status), l.SourceType, l.SourceQuery, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert lead %s/%s", l.CampaignID, l.ProspectID)
	}

	got, err := scanLead(tx.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE campaign_id = $1 AND prospect_id = $2`,
		l.CampaignID, l.ProspectID))
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: read lead")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit create lead")
	}
	return got, tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("lead", id)
	}
	return l, eris.Wrapf(err, "postgres: get lead %s", id)
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		WHERE ($1 = '' OR campaign_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY found_at ASC, id ASC LIMIT $3`,
		filter.CampaignID, string(filter.Status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(to), time.Now().UTC(), id, statusStrings(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Daily counters ---

func (s *PostgresStore) ReserveCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string, consume bool) (*model.QuotaCheck, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("postgres: unknown counter %q", kind)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin reserve tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var limits model.CampaignLimits
	err = tx.QueryRow(ctx,
		`SELECT daily_send_limit, daily_prospect_limit, daily_email_limit FROM campaigns WHERE id = $1`, campaignID,
	).Scan(&limits.DailySendLimit, &limits.DailyProspectLimit, &limits.DailyEmailLimit)
	if isNoRows(err) {
		return nil, notFound("campaign", campaignID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read campaign limit %s", campaignID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO daily_counters (day, campaign_id, kind, used) VALUES ($1, $2, $3, 0)
		ON CONFLICT (day, campaign_id, kind) DO NOTHING`,
		day, campaignID, string(kind),
	); err != nil {
		return nil, eris.Wrap(err, "postgres: ensure counter row")
	}

	var used int
	if err := tx.QueryRow(ctx,
		`SELECT used FROM daily_counters WHERE day = $1 AND campaign_id = $2 AND kind = $3 FOR UPDATE`,
		day, campaignID, string(kind),
	).Scan(&used); err != nil {
		return nil, eris.Wrap(err, "postgres: lock counter")
	}

	check := model.NewQuotaCheck(used, limits.For(kind))
	if consume && check.Allowed {
		if _, err := tx.Exec(ctx,
			`UPDATE daily_counters SET used = used + 1 WHERE day = $1 AND campaign_id = $2 AND kind = $3`,
			day, campaignID, string(kind),
		); err != nil {
			return nil, eris.Wrap(err, "postgres: increment counter")
		}
		check = model.NewQuotaCheck(used+1, check.Limit)
		check.Allowed = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit reserve")
	}
	return &check, nil
}

func (s *PostgresStore) GetCounters(ctx context.Context, campaignID, day string) (*model.DailyCounter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, used FROM daily_counters WHERE day = $1 AND campaign_id = $2`, day, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get counters")
	}
	defer rows.Close()

	dc := newDailyCounter(campaignID, day)
	for rows.Next() {
		var kind string
		var used int
		if err := rows.Scan(&kind, &used); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counter")
		}
		dc.Counts[model.CounterKind(kind)] = used
	}
	return dc, eris.Wrap(rows.Err(), "postgres: iterate counters")
}

func (s *PostgresStore) ReleaseCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE daily_counters SET used = used - 1 WHERE day = $1 AND campaign_id = $2 AND kind = $3 AND used > 0`,
		day, campaignID, string(kind))
	return eris.Wrapf(err, "postgres: release counter %s", campaignID)
}

func (s *PostgresStore) ResetCounters(ctx context.Context, campaignID, day string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE daily_counters SET used = 0 WHERE day = $1 AND campaign_id = $2`, day, campaignID)
	return eris.Wrapf(err, "postgres: reset counters %s", campaignID)
}

// --- Queue ---

const insertQueueItemSQL = `INSERT INTO queue_items (` + queueColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func queueItemArgs(item *model.QueueItem) []any {
	return []any{
		item.ID, item.LeadID, item.EmailID, item.CampaignID, item.TemplateID, item.ToAddress, item.Subject,
		item.Body, string(item.Status), item.Category, item.Sequence, item.ParentLogID, item.ScheduledFor.UTC(),
		item.Attempts, item.Error, item.MessageID, item.SentAt, item.CreatedAt,
	}
}

func (s *PostgresStore) EnqueueItem(ctx context.Context, item *model.QueueItem) error {
	prepareQueueItem(item)
	if err := validateQueueItem(item); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, insertQueueItemSQL, queueItemArgs(item)...)
	return eris.Wrapf(err, "postgres: insert queue item %s", item.ID)
}

func (s *PostgresStore) EnqueueFollowUps(ctx context.Context, parentLogID string, items []*model.QueueItem) (int, error) {
	if parentLogID == "" {
		return 0, eris.New("postgres: follow-ups need a parent log")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin follow-up tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize schedulers working on the same parent.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, parentLogID); err != nil {
		return 0, eris.Wrap(err, "postgres: lock parent log")
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_items WHERE parent_log_id = $1 AND category LIKE 'followup\_%')`,
		parentLogID,
	).Scan(&exists); err != nil {
		return 0, eris.Wrap(err, "postgres: check follow-ups")
	}
	if exists {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		item.ParentLogID = parentLogID
		prepareQueueItem(item)
		if err := validateQueueItem(item); err != nil {
			return 0, err
		}
		batch.Queue(insertQueueItemSQL, queueItemArgs(item)...)
	}
	if len(items) > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, eris.Wrap(err, "postgres: insert follow-ups")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit follow-ups")
	}
	return len(items), nil
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	q, err := scanQueueItem(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("queue item", id)
	}
	return q, eris.Wrapf(err, "postgres: get queue item %s", id)
}

func (s *PostgresStore) ListDueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM queue_items
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY created_at ASC, id ASC LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due items")
	}
	defer rows.Close()

	var out []model.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue item")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate queue items")
}

func (s *PostgresStore) MarkSending(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'sending', attempts = attempts + 1 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark sending %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseSending(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'pending', attempts = GREATEST(attempts - 1, 0) WHERE id = $1 AND status = 'sending'`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: release sending %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("sending queue item", id)
	}
	return nil
}

func (s *PostgresStore) UpdateItemContent(ctx context.Context, id, subject, body string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE queue_items SET subject = $1, body = $2 WHERE id = $3`, subject, body, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update content %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("queue item", id)
	}
	return nil
}

func (s *PostgresStore) HasQueuedItem(ctx context.Context, leadID, category string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_items WHERE lead_id = $1 AND category = $2 AND status <> 'failed')`,
		leadID, category,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: has queued item %s", leadID)
}

func (s *PostgresStore) CompleteSend(ctx context.Context, c SendCompletion) (*model.OutreachLog, error) {
	sentAt := c.SentAt.UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin complete send tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	item, err := scanQueueItem(tx.QueryRow(ctx,
		`UPDATE queue_items SET status = 'sent', message_id = $1, sent_at = $2, error = ''
		WHERE id = $3 AND status = 'sending'
		RETURNING `+queueColumns,
		c.MessageID, sentAt, c.ItemID,
	))
	if isNoRows(err) {
		return nil, notFound("sending queue item", c.ItemID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: mark sent %s", c.ItemID)
	}

	if c.AdvanceTo != "" && item.LeadID != "" && len(c.AdvanceFrom) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
			string(c.AdvanceTo), sentAt, item.LeadID, statusStrings(c.AdvanceFrom),
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: advance lead %s", item.LeadID)
		}
	}

	log := newOutreachLog(item, c.MessageID, sentAt)
	if _, err := tx.Exec(ctx,
		`INSERT INTO outreach_logs (`+logColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.QueueItemID, log.LeadID, log.EmailID, log.Category, log.Sequence, log.ParentLogID, log.MessageID, log.SentAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert outreach log")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit complete send")
	}
	return log, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errText string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE queue_items SET status = 'failed', error = $1 WHERE id = $2`, errText, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("queue item", id)
	}
	return nil
}

func (s *PostgresStore) CountSentBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_items
		WHERE (status = 'sent' AND sent_at >= $1 AND sent_at < $2) OR status = 'sending'`,
		start.UTC(), end.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count sent")
}

func (s *PostgresStore) QueueStats(ctx context.Context, now time.Time) (*model.QueueStats, error) {
	start, end := model.DayBounds(now)
	var st model.QueueStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sending'),
			COUNT(*) FILTER (WHERE status = 'sent' AND sent_at >= $1 AND sent_at < $2),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM queue_items`,
		start, end,
	).Scan(&st.Pending, &st.Sending, &st.SentToday, &st.Failed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue stats")
	}
	return &st, nil
}

func (s *PostgresStore) DeletePendingFollowUps(ctx context.Context, leadID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_items WHERE lead_id = $1 AND status = 'pending' AND category LIKE 'followup\_%'`, leadID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete follow-ups %s", leadID)
	}
	return int(tag.RowsAffected()), nil
}

// --- Outreach logs ---

func (s *PostgresStore) ListInitialLogsSince(ctx context.Context, since time.Time) ([]model.OutreachLog, error) {
	return s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM outreach_logs WHERE category = $1 AND sent_at >= $2 ORDER BY sent_at ASC, id ASC`,
		model.CategoryMain, since.UTC())
}

func (s *PostgresStore) ListLogs(ctx context.Context, leadID string) ([]model.OutreachLog, error) {
	return s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM outreach_logs WHERE lead_id = $1 ORDER BY sent_at ASC, id ASC`, leadID)
}

func (s *PostgresStore) queryLogs(ctx context.Context, query string, args ...any) ([]model.OutreachLog, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outreach logs")
	}
	defer rows.Close()

	var out []model.OutreachLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan outreach log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate outreach logs")
}

// --- Leases ---

func (s *PostgresStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leases (name, holder, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at < $4 OR leases.holder = EXCLUDED.holder`,
		name, holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lease %s", name)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE name = $1 AND holder = $2`, name, holder)
	return eris.Wrapf(err, "postgres: release lease %s", name)
}
