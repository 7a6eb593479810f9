package followup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/lead"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var sentAt = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type env struct {
	s     store.Store
	brand *model.Brand
	lead  *model.Lead
	email *model.Email
	log   *model.OutreachLog
}

// newEnv creates a lead whose initial message went out at sentAt, plus two
// follow-up templates: the first without a delay, the second after 10 days.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "followup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	e := &env{s: s}
	e.brand = &model.Brand{Name: "Sells", FromEmail: "blake@sells.test"}
	require.NoError(t, s.SaveBrand(ctx, e.brand))
	c := &model.Campaign{BrandID: e.brand.ID, Name: "web-design", Limits: model.CampaignLimits{DailySendLimit: 5}}
	require.NoError(t, s.SaveCampaign(ctx, c))

	for _, tmpl := range []*model.Template{
		{BrandID: e.brand.ID, Name: "nudge", Category: model.FollowUpCategory(1), Sequence: 1, Active: true,
			Subject: "Re: {{company}}", Body: "Bumping this"},
		{BrandID: e.brand.ID, Name: "last", Category: model.FollowUpCategory(2), Sequence: 2, DelayDays: 10, Active: true,
			Subject: "Last note for {{company}}", Body: "Closing the loop"},
		{BrandID: e.brand.ID, Name: "retired", Category: model.FollowUpCategory(3), Sequence: 3, Active: false,
			Subject: "old", Body: "old"},
	} {
		require.NoError(t, s.SaveTemplate(ctx, tmpl))
	}

	p, _, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com", Name: "Acme", URL: "https://acme.com"})
	require.NoError(t, err)
	_, err = s.AddEmail(ctx, model.Email{ProspectID: p.ID, Address: "jane@acme.com", IsDomainMatch: true, Confidence: 100})
	require.NoError(t, err)
	e.email, err = s.GetBestEmail(ctx, p.ID)
	require.NoError(t, err)
	e.lead, _, err = s.CreateLead(ctx, model.Lead{CampaignID: c.ID, ProspectID: p.ID, Status: model.LeadReady})
	require.NoError(t, err)

	item := &model.QueueItem{LeadID: e.lead.ID, EmailID: e.email.ID, CampaignID: c.ID,
		ToAddress: e.email.Address, Subject: "Hello", Body: "Hi"}
	require.NoError(t, s.EnqueueItem(ctx, item))
	ok, err := s.MarkSending(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	e.log, err = s.CompleteSend(ctx, store.SendCompletion{
		ItemID: item.ID, MessageID: "<1@sells.test>", SentAt: sentAt,
		AdvanceFrom: []model.LeadStatus{model.LeadReady}, AdvanceTo: model.LeadOutreachSent,
	})
	require.NoError(t, err)
	return e
}

func (e *env) scheduler() *Scheduler {
	s := New(e.s, config.FollowUpConfig{}, nil)
	s.now = func() time.Time { return sentAt }
	return s
}

func (e *env) pending(t *testing.T) []model.QueueItem {
	t.Helper()
	items, err := e.s.ListDueItems(context.Background(), sentAt.AddDate(1, 0, 0), 100)
	require.NoError(t, err)
	return items
}

func TestScheduleFollowUps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.scheduler()

	n, err := sched.ScheduleFollowUps(ctx, e.log.ID, e.lead.ID, e.email.ID, e.brand.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items := e.pending(t)
	require.Len(t, items, 2)
	byCategory := map[string]model.QueueItem{}
	for _, it := range items {
		byCategory[it.Category] = it
		assert.Equal(t, e.log.ID, it.ParentLogID)
		assert.Equal(t, "jane@acme.com", it.ToAddress)
	}
	first := byCategory[model.FollowUpCategory(1)]
	assert.Equal(t, "Re: Acme", first.Subject)
	assert.True(t, first.ScheduledFor.Equal(sentAt.AddDate(0, 0, 3)), first.ScheduledFor)
	assert.True(t, byCategory[model.FollowUpCategory(2)].ScheduledFor.Equal(sentAt.AddDate(0, 0, 10)))

	// Idempotent per initial message.
	n, err = sched.ScheduleFollowUps(ctx, e.log.ID, e.lead.ID, e.email.ID, e.brand.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, e.pending(t), 2)
}

func TestScheduleFollowUps_TerminalLead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ok, err := e.s.UpdateLeadStatus(ctx, e.lead.ID, []model.LeadStatus{model.LeadOutreachSent}, model.LeadBounced)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := e.scheduler().ScheduleFollowUps(ctx, e.log.ID, e.lead.ID, e.email.ID, e.brand.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, e.pending(t))
}

func TestCancelOnReply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.scheduler()

	_, err := sched.ScheduleFollowUps(ctx, e.log.ID, e.lead.ID, e.email.ID, e.brand.ID)
	require.NoError(t, err)

	m := lead.NewMachine(e.s, lead.WithFollowUpCanceler(sched))
	got, err := m.Transition(ctx, e.lead.ID, model.LeadReplied)
	require.NoError(t, err)
	assert.Equal(t, model.LeadReplied, got.Status)
	assert.Empty(t, e.pending(t))

	// A sweep does not revive the chain for a replied lead.
	res, err := sched.Sweep(ctx, sentAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Skipped: 1}, res)
	assert.Empty(t, e.pending(t))
}

func TestSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.scheduler()
	sched.now = func() time.Time { return sentAt.Add(2 * time.Hour) }

	res, err := sched.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Scheduled: 2}, res)

	// Delays count from the original send, not from the sweep.
	for _, it := range e.pending(t) {
		if it.Category == model.FollowUpCategory(1) {
			assert.True(t, it.ScheduledFor.Equal(sentAt.AddDate(0, 0, 3)))
		}
	}

	res, err = sched.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1}, res)
}

func TestSweep_OutsideWindow(t *testing.T) {
	e := newEnv(t)
	sched := e.scheduler()
	sched.now = func() time.Time { return sentAt.Add(48 * time.Hour) }

	res, err := sched.Sweep(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestDelayFor(t *testing.T) {
	s := New(nil, config.FollowUpConfig{}, nil)
	assert.Equal(t, 3, s.delayFor(&model.Template{Category: model.FollowUpCategory(1)}))
	assert.Equal(t, 7, s.delayFor(&model.Template{Category: model.FollowUpCategory(2)}))
	assert.Equal(t, 21, s.delayFor(&model.Template{Category: model.FollowUpCategory(4)}))
	assert.Equal(t, 21, s.delayFor(&model.Template{Category: model.FollowUpCategory(10)}))
	assert.Equal(t, 5, s.delayFor(&model.Template{Category: model.FollowUpCategory(3), DelayDays: 5}))

	custom := New(nil, config.FollowUpConfig{DefaultDelayDays: []int{1, 2}}, nil)
	assert.Equal(t, 2, custom.delayFor(&model.Template{Category: model.FollowUpCategory(6)}))
}

func TestScheduleFollowUps_EarlierFollowUpInactive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Retire followup_1 and leave followup_2 without a delay of its own.
	templates, err := e.s.ListFollowUpTemplates(ctx, e.brand.ID)
	require.NoError(t, err)
	for i := range templates {
		tmpl := templates[i]
		switch tmpl.Category {
		case model.FollowUpCategory(1):
			tmpl.Active = false
		case model.FollowUpCategory(2):
			tmpl.DelayDays = 0
		}
		require.NoError(t, e.s.SaveTemplate(ctx, &tmpl))
	}

	n, err := e.scheduler().ScheduleFollowUps(ctx, e.log.ID, e.lead.ID, e.email.ID, e.brand.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items := e.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, model.FollowUpCategory(2), items[0].Category)
	assert.True(t, items[0].ScheduledFor.Equal(sentAt.AddDate(0, 0, 7)), items[0].ScheduledFor)
}

func TestSortFollowUps(t *testing.T) {
	ts := []model.Template{
		{ID: "ten", Category: model.FollowUpCategory(10)},
		{ID: "two", Category: model.FollowUpCategory(2)},
		{ID: "late", Category: model.FollowUpCategory(1), Sequence: 5},
		{ID: "one", Category: model.FollowUpCategory(1)},
	}
	sortFollowUps(ts)

	var ids []string
	for _, tmpl := range ts {
		ids = append(ids, tmpl.ID)
	}
	assert.Equal(t, []string{"one", "two", "ten", "late"}, ids)
}
