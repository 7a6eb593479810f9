package outreach

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	// ErrLeadNotReady is returned when a lead is not in a sendable state.
	ErrLeadNotReady = eris.New("outreach: lead not ready")
	// ErrAlreadyQueued is returned when the lead already has an item in the
	// template's category.
	ErrAlreadyQueued = eris.New("outreach: already queued")
	// ErrRecipientExcluded is returned when the address or its domain is on
	// the exclusion list.
	ErrRecipientExcluded = eris.New("outreach: recipient excluded")
	// ErrNoEmail is returned when a lead has no usable address.
	ErrNoEmail = eris.New("outreach: no email for lead")
)

// Store is the persistence the queue and dispatcher need.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetEmail(ctx context.Context, id string) (*model.Email, error)
	GetBestEmail(ctx context.Context, prospectID string) (*model.Email, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetBrand(ctx context.Context, id string) (*model.Brand, error)
	GetTemplate(ctx context.Context, id string) (*model.Template, error)

	EnqueueItem(ctx context.Context, item *model.QueueItem) error
	HasQueuedItem(ctx context.Context, leadID, category string) (bool, error)
	ListDueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	MarkSending(ctx context.Context, id string) (bool, error)
	ReleaseSending(ctx context.Context, id string) error
	UpdateItemContent(ctx context.Context, id, subject, body string) error
	CompleteSend(ctx context.Context, c store.SendCompletion) (*model.OutreachLog, error)
	MarkFailed(ctx context.Context, id, errText string) error
	CountSentBetween(ctx context.Context, start, end time.Time) (int, error)
	QueueStats(ctx context.Context, now time.Time) (*model.QueueStats, error)
}

// EmailGuard reports whether an address may be contacted.
type EmailGuard interface {
	IsEmailExcluded(ctx context.Context, email string) (bool, error)
}

// EnqueueRequest asks for a lead to be sent a template. EmailID falls back to
// the prospect's best address; a zero ScheduledFor means now.
type EnqueueRequest struct {
	LeadID       string
	EmailID      string
	TemplateID   string
	ScheduledFor time.Time
}

// EnqueueSummary counts the outcome of a bulk enqueue.
type EnqueueSummary struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// Queue renders messages and stores them as pending items.
type Queue struct {
	store    Store
	guard    EmailGuard
	renderer *Renderer
	now      func() time.Time
	log      *zap.Logger
}

// NewQueue creates a Queue.
func NewQueue(s Store, guard EmailGuard, r *Renderer) *Queue {
	if r == nil {
		r = NewRenderer()
	}
	return &Queue{
		store:    s,
		guard:    guard,
		renderer: r,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "outreach.queue")),
	}
}

// Enqueue renders the template for the lead and stores a pending item. Main
// messages need a READY lead; follow-ups need OUTREACH_SENT.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueueItem, error) {
	lead, err := q.store.GetLead(ctx, req.LeadID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: load lead")
	}
	tmpl, err := q.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: load template")
	}
	if !tmpl.Active {
		return nil, eris.Errorf("outreach: template %s is inactive", tmpl.ID)
	}
	if !sendable(lead.Status, tmpl.Category) {
		return nil, eris.Wrapf(ErrLeadNotReady, "lead %s is %s", lead.ID, lead.Status)
	}

	queued, err := q.store.HasQueuedItem(ctx, lead.ID, tmpl.Category)
	if err != nil {
		return nil, err
	}
	if queued {
		return nil, eris.Wrapf(ErrAlreadyQueued, "lead %s %s", lead.ID, tmpl.Category)
	}

	rc, err := loadContext(ctx, q.store, lead, req.EmailID)
	if err != nil {
		return nil, err
	}
	if rc.Brand.ID != tmpl.BrandID {
		return nil, eris.Errorf("outreach: template %s belongs to brand %s, campaign to %s", tmpl.ID, tmpl.BrandID, rc.Brand.ID)
	}

	excluded, err := q.guard.IsEmailExcluded(ctx, rc.Email.Address)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: exclusion check")
	}
	if excluded {
		return nil, eris.Wrapf(ErrRecipientExcluded, "%s", rc.Email.Address)
	}

	out := q.renderer.Render(tmpl, rc)
	item := &model.QueueItem{
		LeadID:       lead.ID,
		EmailID:      rc.Email.ID,
		CampaignID:   lead.CampaignID,
		TemplateID:   tmpl.ID,
		ToAddress:    rc.Email.Address,
		Subject:      out.Subject,
		Body:         out.Body,
		Category:     tmpl.Category,
		Sequence:     tmpl.Sequence,
		ScheduledFor: req.ScheduledFor,
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = q.now().UTC()
	}
	if err := q.store.EnqueueItem(ctx, item); err != nil {
		return nil, eris.Wrap(err, "outreach: enqueue")
	}

	q.log.Info("message queued",
		zap.String("lead_id", lead.ID),
		zap.String("to", item.ToAddress),
		zap.String("category", item.Category),
		zap.Time("scheduled_for", item.ScheduledFor),
	)
	return item, nil
}

// EnqueueReady queues the template for up to limit READY leads of a
// campaign. Leads that are already queued, excluded or have no address are
// skipped.
func (q *Queue) EnqueueReady(ctx context.Context, campaignID, templateID string, limit int) (EnqueueSummary, error) {
	var sum EnqueueSummary
	leads, err := q.store.ListLeads(ctx, store.LeadFilter{CampaignID: campaignID, Status: model.LeadReady, Limit: limit})
	if err != nil {
		return sum, eris.Wrap(err, "outreach: list ready leads")
	}

	for _, l := range leads {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		_, err := q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: templateID})
		switch {
		case err == nil:
			sum.Queued++
		case isPolicySkip(err):
			sum.Skipped++
			q.log.Info("lead skipped", zap.String("lead_id", l.ID), zap.Error(err))
		default:
			return sum, err
		}
	}
	return sum, nil
}

// Stats returns queue counts with "sent today" measured in UTC.
func (q *Queue) Stats(ctx context.Context) (*model.QueueStats, error) {
	st, err := q.store.QueueStats(ctx, q.now())
	return st, eris.Wrap(err, "outreach: queue stats")
}

func isPolicySkip(err error) bool {
	return eris.Is(err, ErrAlreadyQueued) || eris.Is(err, ErrRecipientExcluded) ||
		eris.Is(err, ErrNoEmail) || eris.Is(err, ErrLeadNotReady)
}

// sendable reports whether a lead in status may receive a message of category.
func sendable(status model.LeadStatus, category string) bool {
	if model.IsFollowUpCategory(category) {
		return status == model.LeadOutreachSent
	}
	return status == model.LeadReady
}

// loadContext gathers everything a template may reference. An empty emailID
// selects the prospect's best address.
func loadContext(ctx context.Context, s Store, lead *model.Lead, emailID string) (Context, error) {
	var rc Context
	var err error

	if rc.Campaign, err = s.GetCampaign(ctx, lead.CampaignID); err != nil {
		return rc, eris.Wrap(err, "outreach: load campaign")
	}
	if rc.Brand, err = s.GetBrand(ctx, rc.Campaign.BrandID); err != nil {
		return rc, eris.Wrap(err, "outreach: load brand")
	}
	if rc.Prospect, err = s.GetProspect(ctx, lead.ProspectID); err != nil {
		return rc, eris.Wrap(err, "outreach: load prospect")
	}

	if emailID != "" {
		rc.Email, err = s.GetEmail(ctx, emailID)
	} else {
		rc.Email, err = s.GetBestEmail(ctx, lead.ProspectID)
	}
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return rc, eris.Wrap(err, "outreach: load email")
	}
	if rc.Email == nil {
		return rc, eris.Wrapf(ErrNoEmail, "lead %s", lead.ID)
	}
	return rc, nil
}
