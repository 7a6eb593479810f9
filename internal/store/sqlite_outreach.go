package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// --- Brands, campaigns, templates ---

func (s *SQLiteStore) SaveBrand(ctx context.Context, b *model.Brand) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO brands (`+brandColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, from_name = excluded.from_name,
			from_email = excluded.from_email, smtp_host = excluded.smtp_host, smtp_port = excluded.smtp_port,
			smtp_username = excluded.smtp_username, smtp_password = excluded.smtp_password, smtp_tls = excluded.smtp_tls`,
		b.ID, b.Name, b.FromName, b.FromEmail, b.SMTP.Host, b.SMTP.Port, b.SMTP.Username, b.SMTP.Password, b.SMTP.UseTLS, b.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save brand %s", b.ID)
}

func (s *SQLiteStore) GetBrand(ctx context.Context, id string) (*model.Brand, error) {
	b, err := scanBrand(s.db.QueryRowContext(ctx, `SELECT `+brandColumns+` FROM brands WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("brand", id)
	}
	return b, eris.Wrapf(err, "sqlite: get brand %s", id)
}

func (s *SQLiteStore) SaveCampaign(ctx context.Context, c *model.Campaign) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET brand_id = excluded.brand_id, name = excluded.name,
			target_url = excluded.target_url, keywords = excluded.keywords,
			daily_send_limit = excluded.daily_send_limit, daily_prospect_limit = excluded.daily_prospect_limit,
			daily_email_limit = excluded.daily_email_limit`,
		c.ID, c.BrandID, c.Name, c.TargetURL, keywords, c.Limits.DailySendLimit,
		c.Limits.DailyProspectLimit, c.Limits.DailyEmailLimit, c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save campaign %s", c.ID)
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("campaign", id)
	}
	return c, eris.Wrapf(err, "sqlite: get campaign %s", id)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate campaigns")
}

func (s *SQLiteStore) SaveTemplate(ctx context.Context, t *model.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET brand_id = excluded.brand_id, name = excluded.name,
			category = excluded.category, sequence = excluded.sequence, delay_days = excluded.delay_days,
			subject = excluded.subject, body = excluded.body, active = excluded.active`,
		t.ID, t.BrandID, t.Name, t.Category, t.Sequence, t.DelayDays, t.Subject, t.Body, t.Active, t.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save template %s", t.ID)
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("template", id)
	}
	return t, eris.Wrapf(err, "sqlite: get template %s", id)
}

func (s *SQLiteStore) ListFollowUpTemplates(ctx context.Context, brandID string) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates
		WHERE brand_id = ? AND active = 1 AND category LIKE 'followup\_%' ESCAPE '\'
		ORDER BY sequence ASC, category ASC`,
		brandID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list follow-up templates %s", brandID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate templates")
}

// --- Leads ---

func (s *SQLiteStore) CreateLead(ctx context.Context, l model.Lead) (*model.Lead, bool, error) {
	now := time.Now().UTC()
	if l.Status == "" {
		l.Status = model.LeadNew
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin create lead tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), l.CampaignID, l.ProspectID, string(l.Status), l.SourceType, l.SourceQuery, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert lead %s/%s", l.CampaignID, l.ProspectID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}

	got, err := scanLead(tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE campaign_id = ? AND prospect_id = ?`,
		l.CampaignID, l.ProspectID))
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: read lead")
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit create lead")
	}
	return got, n > 0, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("lead", id)
	}
	return l, eris.Wrapf(err, "sqlite: get lead %s", id)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any
	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY found_at ASC, rowid ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), time.Now().UTC(), id}
	for _, f := range statusStrings(from) {
		args = append(args, f)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// --- Daily counters ---

func (s *SQLiteStore) ReserveCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string, consume bool) (*model.QuotaCheck, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("sqlite: unknown counter %q", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin reserve tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_counters (day, campaign_id, kind, used) VALUES (?, ?, ?, 0)`,
		day, campaignID, string(kind),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: ensure counter row")
	}

	var limits model.CampaignLimits
	err = tx.QueryRowContext(ctx,
		`SELECT daily_send_limit, daily_prospect_limit, daily_email_limit FROM campaigns WHERE id = ?`, campaignID,
	).Scan(&limits.DailySendLimit, &limits.DailyProspectLimit, &limits.DailyEmailLimit)
	if isNoRows(err) {
		return nil, notFound("campaign", campaignID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read campaign limit %s", campaignID)
	}

	var used int
	if err := tx.QueryRowContext(ctx,
		`SELECT used FROM daily_counters WHERE day = ? AND campaign_id = ? AND kind = ?`,
		day, campaignID, string(kind),
	).Scan(&used); err != nil {
		return nil, eris.Wrap(err, "sqlite: read counter")
	}

	check := model.NewQuotaCheck(used, limits.For(kind))
	if consume && check.Allowed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE daily_counters SET used = used + 1 WHERE day = ? AND campaign_id = ? AND kind = ?`,
			day, campaignID, string(kind),
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: increment counter")
		}
		check = model.NewQuotaCheck(used+1, check.Limit)
		check.Allowed = true
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit reserve")
	}
	return &check, nil
}

func (s *SQLiteStore) GetCounters(ctx context.Context, campaignID, day string) (*model.DailyCounter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, used FROM daily_counters WHERE day = ? AND campaign_id = ?`, day, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get counters")
	}
	defer rows.Close() //nolint:errcheck

	dc := newDailyCounter(campaignID, day)
	for rows.Next() {
		var kind model.CounterKind
		var used int
		if err := rows.Scan(&kind, &used); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan counter")
		}
		dc.Counts[kind] = used
	}
	return dc, eris.Wrap(rows.Err(), "sqlite: iterate counters")
}

func (s *SQLiteStore) ReleaseCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daily_counters SET used = used - 1 WHERE day = ? AND campaign_id = ? AND kind = ? AND used > 0`,
		day, campaignID, string(kind))
	return eris.Wrapf(err, "sqlite: release counter %s", campaignID)
}

func (s *SQLiteStore) ResetCounters(ctx context.Context, campaignID, day string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daily_counters SET used = 0 WHERE day = ? AND campaign_id = ?`, day, campaignID)
	return eris.Wrapf(err, "sqlite: reset counters %s", campaignID)
}

// --- Queue ---

func (s *SQLiteStore) EnqueueItem(ctx context.Context, item *model.QueueItem) error {
	prepareQueueItem(item)
	if err := validateQueueItem(item); err != nil {
		return err
	}
	return s.insertQueueItem(ctx, s.db, item)
}

func (s *SQLiteStore) insertQueueItem(ctx context.Context, ex execContexter, item *model.QueueItem) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO queue_items (`+queueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.LeadID, item.EmailID, item.CampaignID, item.TemplateID, item.ToAddress, item.Subject,
		item.Body, string(item.Status), item.Category, item.Sequence, item.ParentLogID, item.ScheduledFor.UTC(),
		item.Attempts, item.Error, item.MessageID, item.SentAt, item.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert queue item %s", item.ID)
}

func (s *SQLiteStore) EnqueueFollowUps(ctx context.Context, parentLogID string, items []*model.QueueItem) (int, error) {
	if parentLogID == "" {
		return 0, eris.New("sqlite: follow-ups need a parent log")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin follow-up tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE parent_log_id = ? AND category LIKE 'followup\_%' ESCAPE '\'`,
		parentLogID,
	).Scan(&existing); err != nil {
		return 0, eris.Wrap(err, "sqlite: count follow-ups")
	}
	if existing > 0 {
		return 0, nil
	}

	for _, item := range items {
		item.ParentLogID = parentLogID
		prepareQueueItem(item)
		if err := validateQueueItem(item); err != nil {
			return 0, err
		}
		if err := s.insertQueueItem(ctx, tx, item); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit follow-ups")
	}
	return len(items), nil
}

func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	q, err := scanQueueItem(s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, notFound("queue item", id)
	}
	return q, eris.Wrapf(err, "sqlite: get queue item %s", id)
}

func (s *SQLiteStore) ListDueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due items")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue item")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate queue items")
}

func (s *SQLiteStore) MarkSending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'sending', attempts = attempts + 1 WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark sending %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ReleaseSending(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'pending', attempts = MAX(attempts - 1, 0) WHERE id = ? AND status = 'sending'`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: release sending %s", id)
	}
	return checkRowsAffected(res, "sending queue item", id)
}

func (s *SQLiteStore) UpdateItemContent(ctx context.Context, id, subject, body string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET subject = ?, body = ? WHERE id = ?`, subject, body, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update content %s", id)
	}
	return checkRowsAffected(res, "queue item", id)
}

func (s *SQLiteStore) HasQueuedItem(ctx context.Context, leadID, category string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_items WHERE lead_id = ? AND category = ? AND status <> 'failed')`,
		leadID, category,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "sqlite: has queued item %s", leadID)
}

func (s *SQLiteStore) CompleteSend(ctx context.Context, c SendCompletion) (*model.OutreachLog, error) {
	sentAt := c.SentAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin complete send tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET status = 'sent', message_id = ?, sent_at = ?, error = '' WHERE id = ? AND status = 'sending'`,
		c.MessageID, sentAt, c.ItemID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: mark sent %s", c.ItemID)
	}
	if err := checkRowsAffected(res, "sending queue item", c.ItemID); err != nil {
		return nil, err
	}

	item, err := scanQueueItem(tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, c.ItemID))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read sent item %s", c.ItemID)
	}

	if c.AdvanceTo != "" && item.LeadID != "" && len(c.AdvanceFrom) > 0 {
		args := []any{string(c.AdvanceTo), sentAt, item.LeadID}
		for _, f := range statusStrings(c.AdvanceFrom) {
			args = append(args, f)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders(len(c.AdvanceFrom))+`)`,
			args...,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: advance lead %s", item.LeadID)
		}
	}

	log := newOutreachLog(item, c.MessageID, sentAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outreach_logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.QueueItemID, log.LeadID, log.EmailID, log.Category, log.Sequence, log.ParentLogID, log.MessageID, log.SentAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert outreach log")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit complete send")
	}
	return log, nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'failed', error = ? WHERE id = ?`, errText, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark failed %s", id)
	}
	return checkRowsAffected(res, "queue item", id)
}

func (s *SQLiteStore) CountSentBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items
		WHERE (status = 'sent' AND sent_at >= ? AND sent_at < ?) OR status = 'sending'`,
		start.UTC(), end.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count sent")
}

func (s *SQLiteStore) QueueStats(ctx context.Context, now time.Time) (*model.QueueStats, error) {
	start, end := model.DayBounds(now)
	var st model.QueueStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sent' AND sent_at >= ? AND sent_at < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM queue_items`,
		start, end,
	).Scan(&st.Pending, &st.Sending, &st.SentToday, &st.Failed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue stats")
	}
	return &st, nil
}

func (s *SQLiteStore) DeletePendingFollowUps(ctx context.Context, leadID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE lead_id = ? AND status = 'pending' AND category LIKE 'followup\_%' ESCAPE '\'`,
		leadID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete follow-ups %s", leadID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Outreach logs ---

func (s *SQLiteStore) ListInitialLogsSince(ctx context.Context, since time.Time) ([]model.OutreachLog, error) {
	return s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM outreach_logs WHERE category = ? AND sent_at >= ? ORDER BY sent_at ASC, rowid ASC`,
		model.CategoryMain, since.UTC())
}

func (s *SQLiteStore) ListLogs(ctx context.Context, leadID string) ([]model.OutreachLog, error) {
	return s.queryLogs(ctx,
		`SELECT `+logColumns+` FROM outreach_logs WHERE lead_id = ? ORDER BY sent_at ASC, rowid ASC`, leadID)
}

func (s *SQLiteStore) queryLogs(ctx context.Context, query string, args ...any) ([]model.OutreachLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outreach logs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.OutreachLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outreach log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate outreach logs")
}

// --- Leases ---

func (s *SQLiteStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at < ? OR leases.holder = excluded.holder`,
		name, holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lease %s", name)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder)
	return eris.Wrapf(err, "sqlite: release lease %s", name)
}
