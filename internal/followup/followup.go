// Package followup chains follow-up messages after an initial send and
// cancels them when a lead stops the conversation.
package followup

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/outreach"
)

// DefaultDelayDays are the offsets used for follow-ups whose template sets no
// delay: followup_1 waits DefaultDelayDays[0] days, followup_2 the next, and
// later follow-ups reuse the last value.
var DefaultDelayDays = []int{3, 7, 14, 21}

// Store is the persistence the scheduler needs.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetEmail(ctx context.Context, id string) (*model.Email, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetBrand(ctx context.Context, id string) (*model.Brand, error)
	ListFollowUpTemplates(ctx context.Context, brandID string) ([]model.Template, error)
	EnqueueFollowUps(ctx context.Context, parentLogID string, items []*model.QueueItem) (int, error)
	DeletePendingFollowUps(ctx context.Context, leadID string) (int, error)
	ListInitialLogsSince(ctx context.Context, since time.Time) ([]model.OutreachLog, error)
}

// SweepResult summarizes a sweep.
type SweepResult struct {
	Checked   int `json:"checked"`
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
}

// Scheduler enqueues follow-up chains.
type Scheduler struct {
	store    Store
	renderer *outreach.Renderer
	delays   []int
	window   time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Scheduler.
func New(s Store, cfg config.FollowUpConfig, r *outreach.Renderer) *Scheduler {
	if r == nil {
		r = outreach.NewRenderer()
	}
	delays := cfg.DefaultDelayDays
	if len(delays) == 0 {
		delays = DefaultDelayDays
	}
	window := time.Duration(cfg.SweepWindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Scheduler{
		store:    s,
		renderer: r,
		delays:   delays,
		window:   window,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "followup")),
	}
}

// ScheduleFollowUps enqueues the brand's active follow-up templates for a lead
// whose initial message was logged as initialLogID. Running it again for the
// same log adds nothing.
func (s *Scheduler) ScheduleFollowUps(ctx context.Context, initialLogID, leadID, emailID, brandID string) (int, error) {
	return s.schedule(ctx, s.now(), initialLogID, leadID, emailID, brandID)
}

func (s *Scheduler) schedule(ctx context.Context, base time.Time, initialLogID, leadID, emailID, brandID string) (int, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return 0, eris.Wrap(err, "followup: load lead")
	}
	if lead.Status.Terminal() {
		return 0, nil
	}

	templates, err := s.store.ListFollowUpTemplates(ctx, brandID)
	if err != nil {
		return 0, eris.Wrap(err, "followup: list templates")
	}
	if len(templates) == 0 {
		return 0, nil
	}
	sortFollowUps(templates)

	rc, err := s.renderContext(ctx, lead, emailID, brandID)
	if err != nil {
		return 0, err
	}

	items := make([]*model.QueueItem, 0, len(templates))
	for i := range templates {
		t := &templates[i]
		out := s.renderer.Render(t, rc)
		items = append(items, &model.QueueItem{
			LeadID:       lead.ID,
			EmailID:      rc.Email.ID,
			CampaignID:   lead.CampaignID,
			TemplateID:   t.ID,
			ToAddress:    rc.Email.Address,
			Subject:      out.Subject,
			Body:         out.Body,
			Category:     t.Category,
			Sequence:     t.Sequence,
			ScheduledFor: base.UTC().AddDate(0, 0, s.delayFor(t)),
		})
	}

	n, err := s.store.EnqueueFollowUps(ctx, initialLogID, items)
	if err != nil {
		return 0, eris.Wrap(err, "followup: enqueue")
	}
	if n > 0 {
		s.log.Info("follow-ups scheduled",
			zap.String("lead_id", lead.ID),
			zap.String("parent_log_id", initialLogID),
			zap.Int("count", n),
		)
	}
	return n, nil
}

// delayFor returns the template's delay, or the default for its follow-up
// number.
func (s *Scheduler) delayFor(t *model.Template) int {
	if t.DelayDays > 0 {
		return t.DelayDays
	}
	n, ok := model.FollowUpNumber(t.Category)
	if !ok {
		n = 1
	}
	if n <= len(s.delays) {
		return s.delays[n-1]
	}
	return s.delays[len(s.delays)-1]
}

// sortFollowUps orders templates by sequence, then by follow-up number.
func sortFollowUps(ts []model.Template) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Sequence != ts[j].Sequence {
			return ts[i].Sequence < ts[j].Sequence
		}
		ni, _ := model.FollowUpNumber(ts[i].Category)
		nj, _ := model.FollowUpNumber(ts[j].Category)
		return ni < nj
	})
}

func (s *Scheduler) renderContext(ctx context.Context, lead *model.Lead, emailID, brandID string) (outreach.Context, error) {
	var rc outreach.Context
	var err error
	if rc.Email, err = s.store.GetEmail(ctx, emailID); err != nil {
		return rc, eris.Wrap(err, "followup: load email")
	}
	if rc.Prospect, err = s.store.GetProspect(ctx, lead.ProspectID); err != nil {
		return rc, eris.Wrap(err, "followup: load prospect")
	}
	if rc.Campaign, err = s.store.GetCampaign(ctx, lead.CampaignID); err != nil {
		return rc, eris.Wrap(err, "followup: load campaign")
	}
	if rc.Brand, err = s.store.GetBrand(ctx, brandID); err != nil {
		return rc, eris.Wrap(err, "followup: load brand")
	}
	return rc, nil
}

// CancelFollowUps deletes the lead's pending follow-ups.
func (s *Scheduler) CancelFollowUps(ctx context.Context, leadID string) (int, error) {
	n, err := s.store.DeletePendingFollowUps(ctx, leadID)
	if err != nil {
		return 0, eris.Wrap(err, "followup: cancel")
	}
	if n > 0 {
		s.log.Info("follow-ups cancelled", zap.String("lead_id", leadID), zap.Int("count", n))
	}
	return n, nil
}

// Sweep schedules follow-ups for initial messages sent since since (zero
// means the configured window) that have none yet. Delays count from the
// original send time.
func (s *Scheduler) Sweep(ctx context.Context, since time.Time) (SweepResult, error) {
	var res SweepResult
	if since.IsZero() {
		since = s.now().Add(-s.window)
	}

	logs, err := s.store.ListInitialLogsSince(ctx, since)
	if err != nil {
		return res, eris.Wrap(err, "followup: list initial sends")
	}

	for _, l := range logs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		lead, err := s.store.GetLead(ctx, l.LeadID)
		if err != nil {
			return res, eris.Wrap(err, "followup: load lead")
		}
		if lead.Status.Terminal() {
			res.Skipped++
			continue
		}
		campaign, err := s.store.GetCampaign(ctx, lead.CampaignID)
		if err != nil {
			return res, eris.Wrap(err, "followup: load campaign")
		}

		n, err := s.schedule(ctx, l.SentAt, l.ID, l.LeadID, l.EmailID, campaign.BrandID)
		if err != nil {
			s.log.Error("sweep schedule failed", zap.String("log_id", l.ID), zap.Error(err))
			continue
		}
		res.Scheduled += n
	}

	s.log.Info("follow-up sweep finished",
		zap.Time("since", since),
		zap.Int("checked", res.Checked),
		zap.Int("scheduled", res.Scheduled),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
