package outreach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/quota"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fixture struct {
	s        store.Store
	guard    *exclusion.Guard
	brand    *model.Brand
	campaign *model.Campaign
	main     *model.Template
	followUp *model.Template
}

func newFixture(t *testing.T, sendLimit int) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "outreach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	f := &fixture{s: s, guard: exclusion.NewGuard(s)}
	f.brand = &model.Brand{Name: "Sells", FromName: "Blake", FromEmail: "blake@sells.test",
		SMTP: model.SMTPConfig{Host: "smtp.sells.test", Port: 587}}
	require.NoError(t, s.SaveBrand(ctx, f.brand))
	f.campaign = &model.Campaign{BrandID: f.brand.ID, Name: "web-design",
		Limits: model.CampaignLimits{DailySendLimit: sendLimit, DailyProspectLimit: 10, DailyEmailLimit: 10}}
	require.NoError(t, s.SaveCampaign(ctx, f.campaign))

	f.main = &model.Template{BrandID: f.brand.ID, Name: "intro", Category: model.CategoryMain, Active: true,
		Subject: "Hello {{company}}", Body: "Hi {{company_short}} team"}
	require.NoError(t, s.SaveTemplate(ctx, f.main))
	f.followUp = &model.Template{BrandID: f.brand.ID, Name: "nudge", Category: model.FollowUpCategory(1),
		Sequence: 1, DelayDays: 3, Active: true, Subject: "Re: Hello {{company}}", Body: "Just checking in"}
	require.NoError(t, s.SaveTemplate(ctx, f.followUp))
	return f
}

func (f *fixture) lead(t *testing.T, domain string, status model.LeadStatus) (*model.Lead, *model.Email) {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.s.GetOrCreateProspect(ctx, model.Prospect{Domain: domain, Name: domain, URL: "https://" + domain})
	require.NoError(t, err)
	_, err = f.s.AddEmail(ctx, model.Email{ProspectID: p.ID, Address: "jane@" + domain, IsDomainMatch: true, Confidence: 100})
	require.NoError(t, err)
	e, err := f.s.GetBestEmail(ctx, p.ID)
	require.NoError(t, err)
	l, _, err := f.s.CreateLead(ctx, model.Lead{CampaignID: f.campaign.ID, ProspectID: p.ID, Status: status})
	require.NoError(t, err)
	return l, e
}

func (f *fixture) queue() *Queue { return NewQueue(f.s, f.guard, nil) }

func (f *fixture) enqueueReady(t *testing.T, n int) []*model.QueueItem {
	t.Helper()
	var items []*model.QueueItem
	for i := 0; i < n; i++ {
		l, _ := f.lead(t, fmt.Sprintf("acme%d.com", i), model.LeadReady)
		item, err := f.queue().Enqueue(context.Background(), EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
		require.NoError(t, err)
		items = append(items, item)
	}
	return items
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) (SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return SendResult{}, m.err
	}
	m.sent = append(m.sent, msg)
	return SendResult{MessageID: fmt.Sprintf("<%d@sells.test>", len(m.sent))}, nil
}

type fakeFollowUps struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeFollowUps) ScheduleFollowUps(_ context.Context, initialLogID, leadID, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, leadID+"/"+initialLogID)
	return 1, nil
}

func (f *fixture) dispatcher(m Mailer, dailyCap int, opts ...Option) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(f.s, m, f.guard, quota.NewTracker(f.s), DispatcherConfig{
		DailyCap: dailyCap, MinDelay: 30 * time.Second, MaxDelay: 60 * time.Second, SendTimeout: time.Second,
	}, opts...)
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func TestEnqueue_RendersAndStores(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	l, e := f.lead(t, "acme.com", model.LeadReady)

	item, err := f.queue().Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, item.Status)
	assert.Equal(t, e.ID, item.EmailID)
	assert.Equal(t, "jane@acme.com", item.ToAddress)
	assert.Equal(t, "Hello acme.com", item.Subject)
	assert.Equal(t, "Hi Acme team", item.Body)
	assert.Equal(t, f.campaign.ID, item.CampaignID)
}

func TestEnqueue_Rejections(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	q := f.queue()

	t.Run("not ready", func(t *testing.T) {
		l, _ := f.lead(t, "early.com", model.LeadEmailFound)
		_, err := q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
		assert.ErrorIs(t, err, ErrLeadNotReady)
	})

	t.Run("follow-up needs sent lead", func(t *testing.T) {
		l, _ := f.lead(t, "ready.com", model.LeadReady)
		_, err := q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.followUp.ID})
		assert.ErrorIs(t, err, ErrLeadNotReady)
	})

	t.Run("duplicate", func(t *testing.T) {
		l, _ := f.lead(t, "dup.com", model.LeadReady)
		_, err := q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
		assert.ErrorIs(t, err, ErrAlreadyQueued)
	})

	t.Run("excluded", func(t *testing.T) {
		l, _ := f.lead(t, "optout.com", model.LeadReady)
		_, err := f.guard.Exclude(ctx, model.ExclusionDomain, "optout.com", "unsubscribed")
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
		assert.ErrorIs(t, err, ErrRecipientExcluded)
	})

	t.Run("no email", func(t *testing.T) {
		p, _, err := f.s.GetOrCreateProspect(ctx, model.Prospect{Domain: "silent.com", URL: "https://silent.com"})
		require.NoError(t, err)
		l, _, err := f.s.CreateLead(ctx, model.Lead{CampaignID: f.campaign.ID, ProspectID: p.ID, Status: model.LeadReady})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: f.main.ID})
		assert.ErrorIs(t, err, ErrNoEmail)
	})

	t.Run("missing template", func(t *testing.T) {
		l, _ := f.lead(t, "tmpl.com", model.LeadReady)
		_, err := q.Enqueue(ctx, EnqueueRequest{LeadID: l.ID, TemplateID: "nope"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestEnqueueReady(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.lead(t, "a.com", model.LeadReady)
	f.lead(t, "b.com", model.LeadReady)
	f.lead(t, "c.com", model.LeadVerified)
	_, err := f.guard.Exclude(ctx, model.ExclusionEmail, "jane@b.com", "")
	require.NoError(t, err)

	sum, err := f.queue().EnqueueReady(ctx, f.campaign.ID, f.main.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, EnqueueSummary{Queued: 1, Skipped: 1}, sum)

	st, err := f.queue().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
}

func TestDrain_DailyCap(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	items := f.enqueueReady(t, 3)

	m := &fakeMailer{}
	fu := &fakeFollowUps{}
	d, slept := f.dispatcher(m, 2, WithFollowUps(fu))

	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Processed: 2, Sent: 2, LimitReached: true}, res)
	assert.Len(t, m.sent, 2)
	require.Len(t, *slept, 1)
	assert.GreaterOrEqual(t, (*slept)[0], 30*time.Second)
	assert.LessOrEqual(t, (*slept)[0], 60*time.Second)
	assert.Len(t, fu.calls, 2)

	last, err := f.s.GetQueueItem(ctx, items[2].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, last.Status)

	first, err := f.s.GetQueueItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSent, first.Status)
	assert.Equal(t, "<1@sells.test>", first.MessageID)

	l, err := f.s.GetLead(ctx, items[0].LeadID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadOutreachSent, l.Status)

	logs, err := f.s.ListLogs(ctx, items[0].LeadID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.CategoryMain, logs[0].Category)
	assert.Equal(t, items[0].ID, logs[0].QueueItemID)
	assert.Equal(t, "<1@sells.test>", logs[0].MessageID)

	// A second drain the same day sends nothing.
	res, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{LimitReached: true}, res)
	assert.Len(t, m.sent, 2)
}

func TestDrain_FailedSendLeavesLeadReady(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	items := f.enqueueReady(t, 1)

	d, slept := f.dispatcher(&fakeMailer{err: errors.New("550 mailbox unavailable")}, 10)
	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Processed: 1, Failed: 1}, res)
	assert.Empty(t, *slept)

	got, err := f.s.GetQueueItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueFailed, got.Status)
	assert.Equal(t, "550 mailbox unavailable", got.Error)
	assert.Equal(t, 1, got.Attempts)

	l, err := f.s.GetLead(ctx, items[0].LeadID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadReady, l.Status)
}

func TestDrain_AlreadyRunning(t *testing.T) {
	f := newFixture(t, 10)
	d, _ := f.dispatcher(&fakeMailer{}, 10)

	d.mu.Lock()
	res, err := d.Drain(context.Background())
	d.mu.Unlock()

	require.NoError(t, err)
	assert.Equal(t, DrainResult{AlreadyRunning: true}, res)
}

func TestDrain_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	ok, err := f.s.AcquireLease(ctx, leaseName, "other-host", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	d, _ := f.dispatcher(&fakeMailer{}, 10, WithLeaser(f.s))
	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
}

func TestDrain_ExcludedAfterEnqueue(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	items := f.enqueueReady(t, 1)
	_, err := f.guard.Exclude(ctx, model.ExclusionEmail, items[0].ToAddress, "replied stop")
	require.NoError(t, err)

	m := &fakeMailer{}
	d, _ := f.dispatcher(m, 10)
	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Processed: 1, Skipped: 1}, res)
	assert.Empty(t, m.sent)

	got, err := f.s.GetQueueItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueFailed, got.Status)
	assert.Equal(t, "recipient excluded", got.Error)
}

func TestDrain_CampaignQuotaLeavesPending(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	items := f.enqueueReady(t, 2)

	m := &fakeMailer{}
	d, _ := f.dispatcher(m, 10)
	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Processed: 2, Sent: 1, Skipped: 1}, res)

	got, err := f.s.GetQueueItem(ctx, items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

// lostClaimStore loses every claim to another dispatcher.
type lostClaimStore struct{ store.Store }

func (lostClaimStore) MarkSending(context.Context, string) (bool, error) { return false, nil }

func TestDrain_LostClaimKeepsQuota(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.enqueueReady(t, 1)

	m := &fakeMailer{}
	tracker := quota.NewTracker(f.s)
	d := NewDispatcher(lostClaimStore{f.s}, m, f.guard, tracker, DispatcherConfig{DailyCap: 10, SendTimeout: time.Second})
	d.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Processed: 1, Skipped: 1}, res)
	assert.Empty(t, m.sent)

	check, err := tracker.Peek(ctx, f.campaign.ID, model.CounterOutreachSent)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Used)
}

// brokenCompletionStore fails to record sends after the mailer accepted them.
type brokenCompletionStore struct{ store.Store }

func (brokenCompletionStore) CompleteSend(context.Context, store.SendCompletion) (*model.OutreachLog, error) {
	return nil, errors.New("disk full")
}

func TestDrain_UnrecordedSendCountsTowardCap(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	items := f.enqueueReady(t, 2)

	m := &fakeMailer{}
	d := NewDispatcher(brokenCompletionStore{f.s}, m, f.guard, quota.NewTracker(f.s),
		DispatcherConfig{DailyCap: 1, SendTimeout: time.Second})
	d.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.LimitReached)
	assert.Len(t, m.sent, 1)

	got, err := f.s.GetQueueItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSending, got.Status)

	res, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{LimitReached: true}, res)
	assert.Len(t, m.sent, 1)
}

func TestDrain_RerendersWithCurrentData(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.enqueueReady(t, 1)

	f.main.Subject = "Updated {{company}}"
	require.NoError(t, f.s.SaveTemplate(ctx, f.main))

	m := &fakeMailer{}
	d, _ := f.dispatcher(m, 10)
	_, err := d.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "Updated acme0.com", m.sent[0].Subject)
	assert.Equal(t, "blake@sells.test", m.sent[0].FromEmail)
	assert.Equal(t, "smtp.sells.test", m.sent[0].SMTP.Host)
}

func TestDrain_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 10)
	f.enqueueReady(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &fakeMailer{}
	d, _ := f.dispatcher(m, 10)
	_, err := d.Drain(ctx)
	require.Error(t, err)
	assert.Empty(t, m.sent)
}

func TestRandomDelay(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomDelay(30*time.Second, 60*time.Second)
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}
	assert.Equal(t, 5*time.Second, randomDelay(5*time.Second, 5*time.Second))
}
