package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	CampaignID string           `json:"campaign_id,omitempty"`
	Status     model.LeadStatus `json:"status,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// SendCompletion records a delivered queue item. When AdvanceTo is set the
// lead moves to it only if its current status is one of AdvanceFrom.
type SendCompletion struct {
	ItemID      string
	MessageID   string
	SentAt      time.Time
	AdvanceFrom []model.LeadStatus
	AdvanceTo   model.LeadStatus
}

// Store defines the persistence interface for the outreach pipeline.
type Store interface {
	// Exclusions
	AddExclusion(ctx context.Context, ex model.Exclusion) (bool, error)
	AddExclusions(ctx context.Context, exs []model.Exclusion) (int, error)
	MatchDomainExclusion(ctx context.Context, values []string, domain string) (bool, error)
	HasEmailExclusion(ctx context.Context, email string) (bool, error)
	ListExclusions(ctx context.Context, typ model.ExclusionType) ([]model.Exclusion, error)

	// Prospects
	GetOrCreateProspect(ctx context.Context, p model.Prospect) (*model.Prospect, bool, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error)
	SetProspectVerification(ctx context.Context, id string, verified bool, reason string) error
	MarkProspectProcessed(ctx context.Context, id string) error
	DeleteProspect(ctx context.Context, id string) error

	// Emails
	AddEmail(ctx context.Context, e model.Email) (bool, error)
	GetEmail(ctx context.Context, id string) (*model.Email, error)
	ListEmails(ctx context.Context, prospectID string) ([]model.Email, error)
	GetBestEmail(ctx context.Context, prospectID string) (*model.Email, error)

	// Brands, campaigns, templates
	SaveBrand(ctx context.Context, b *model.Brand) error
	GetBrand(ctx context.Context, id string) (*model.Brand, error)
	SaveCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	SaveTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListFollowUpTemplates(ctx context.Context, brandID string) ([]model.Template, error)

	// Leads
	CreateLead(ctx context.Context, l model.Lead) (*model.Lead, bool, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) (bool, error)

	// Daily counters
	ReserveCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string, consume bool) (*model.QuotaCheck, error)
	// ReleaseCounter gives back one unit reserved on day. It never goes
	// below zero.
	ReleaseCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string) error
	GetCounters(ctx context.Context, campaignID, day string) (*model.DailyCounter, error)
	ResetCounters(ctx context.Context, campaignID, day string) error

	// Queue
	EnqueueItem(ctx context.Context, item *model.QueueItem) error
	EnqueueFollowUps(ctx context.Context, parentLogID string, items []*model.QueueItem) (int, error)
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	ListDueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	MarkSending(ctx context.Context, id string) (bool, error)
	// ReleaseSending returns a claimed item to pending and undoes the
	// attempt MarkSending counted.
	ReleaseSending(ctx context.Context, id string) error
	UpdateItemContent(ctx context.Context, id, subject, body string) error
	// HasQueuedItem reports whether the lead has a non-failed item in the
	// category.
	HasQueuedItem(ctx context.Context, leadID, category string) (bool, error)
	CompleteSend(ctx context.Context, c SendCompletion) (*model.OutreachLog, error)
	MarkFailed(ctx context.Context, id, errText string) error
	// CountSentBetween counts items sent in [start, end) plus items still in
	// sending, whose message may already have left.
	CountSentBetween(ctx context.Context, start, end time.Time) (int, error)
	QueueStats(ctx context.Context, now time.Time) (*model.QueueStats, error)
	DeletePendingFollowUps(ctx context.Context, leadID string) (int, error)

	// Outreach logs
	ListInitialLogsSince(ctx context.Context, since time.Time) ([]model.OutreachLog, error)
	ListLogs(ctx context.Context, leadID string) ([]model.OutreachLog, error)

	// Leases
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const (
	prospectColumns = `id, domain, name, url, city, country, verified, verify_reason, source_type, source_query, processed, created_at, updated_at`
	emailColumns    = `id, prospect_id, address, source_page, is_domain_match, is_generic, confidence, created_at`
	brandColumns    = `id, name, from_name, from_email, smtp_host, smtp_port, smtp_username, smtp_password, smtp_tls, created_at`
	campaignColumns = `id, brand_id, name, target_url, keywords, daily_send_limit, daily_prospect_limit, daily_email_limit, created_at`
	templateColumns = `id, brand_id, name, category, sequence, delay_days, subject, body, active, created_at`
	leadColumns     = `id, campaign_id, prospect_id, status, source_type, source_query, found_at, updated_at`
	queueColumns    = `id, lead_id, email_id, campaign_id, template_id, to_address, subject, body, status, category, sequence, parent_log_id, scheduled_for, attempts, error, message_id, sent_at, created_at`
	logColumns      = `id, queue_item_id, lead_id, email_id, category, sequence, parent_log_id, message_id, sent_at`
	exclusionCols   = `id, type, value, reason, added_at`
)

// scannable is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// emailDomainPattern returns a LIKE pattern (escape character '\') matching
// any address at domain.
func emailDomainPattern(domain string) string {
	return "%@" + likeEscaper.Replace(domain)
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

func scanProspect(row scannable) (*model.Prospect, error) {
	var p model.Prospect
	err := row.Scan(&p.ID, &p.Domain, &p.Name, &p.URL, &p.City, &p.Country, &p.Verified,
		&p.VerifyReason, &p.SourceType, &p.SourceQuery, &p.Processed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanEmail(row scannable) (*model.Email, error) {
	var e model.Email
	err := row.Scan(&e.ID, &e.ProspectID, &e.Address, &e.SourcePage, &e.IsDomainMatch,
		&e.IsGeneric, &e.Confidence, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanBrand(row scannable) (*model.Brand, error) {
	var b model.Brand
	err := row.Scan(&b.ID, &b.Name, &b.FromName, &b.FromEmail, &b.SMTP.Host, &b.SMTP.Port,
		&b.SMTP.Username, &b.SMTP.Password, &b.SMTP.UseTLS, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var keywords string
	err := row.Scan(&c.ID, &c.BrandID, &c.Name, &c.TargetURL, &keywords, &c.Limits.DailySendLimit,
		&c.Limits.DailyProspectLimit, &c.Limits.DailyEmailLimit, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if c.Keywords, err = decodeKeywords(keywords); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanTemplate(row scannable) (*model.Template, error) {
	var t model.Template
	err := row.Scan(&t.ID, &t.BrandID, &t.Name, &t.Category, &t.Sequence, &t.DelayDays,
		&t.Subject, &t.Body, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.CampaignID, &l.ProspectID, &l.Status, &l.SourceType,
		&l.SourceQuery, &l.FoundAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanQueueItem(row scannable) (*model.QueueItem, error) {
	var q model.QueueItem
	err := row.Scan(&q.ID, &q.LeadID, &q.EmailID, &q.CampaignID, &q.TemplateID, &q.ToAddress,
		&q.Subject, &q.Body, &q.Status, &q.Category, &q.Sequence, &q.ParentLogID, &q.ScheduledFor,
		&q.Attempts, &q.Error, &q.MessageID, &q.SentAt, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func scanLog(row scannable) (*model.OutreachLog, error) {
	var l model.OutreachLog
	err := row.Scan(&l.ID, &l.QueueItemID, &l.LeadID, &l.EmailID, &l.Category, &l.Sequence,
		&l.ParentLogID, &l.MessageID, &l.SentAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanExclusion(row scannable) (*model.Exclusion, error) {
	var ex model.Exclusion
	if err := row.Scan(&ex.ID, &ex.Type, &ex.Value, &ex.Reason, &ex.AddedAt); err != nil {
		return nil, err
	}
	return &ex, nil
}

// validateQueueItem enforces that an item references a lead or an email.
func validateQueueItem(item *model.QueueItem) error {
	if item.LeadID == "" && item.EmailID == "" {
		return eris.New("store: queue item needs a lead or an email")
	}
	if item.ToAddress == "" {
		return eris.New("store: queue item has no recipient")
	}
	return nil
}

func statusStrings(statuses []model.LeadStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// prepareQueueItem fills ids, defaults and timestamps on a new item.
func prepareQueueItem(item *model.QueueItem) {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = model.QueuePending
	}
	if item.Category == "" {
		item.Category = model.CategoryMain
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
}

func newOutreachLog(item *model.QueueItem, messageID string, sentAt time.Time) *model.OutreachLog {
	return &model.OutreachLog{
		ID:          uuid.New().String(),
		QueueItemID: item.ID,
		LeadID:      item.LeadID,
		EmailID:     item.EmailID,
		Category:    item.Category,
		Sequence:    item.Sequence,
		ParentLogID: item.ParentLogID,
		MessageID:   messageID,
		SentAt:      sentAt,
	}
}

func newDailyCounter(campaignID, day string) *model.DailyCounter {
	dc := &model.DailyCounter{Day: day, CampaignID: campaignID, Counts: make(map[model.CounterKind]int, len(model.CounterKinds))}
	for _, k := range model.CounterKinds {
		dc.Counts[k] = 0
	}
	return dc
}
