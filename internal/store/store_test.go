package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seedCampaign saves a brand and a campaign with the given send limit.
func seedCampaign(t *testing.T, s Store, sendLimit int) (*model.Brand, *model.Campaign) {
	t.Helper()
	ctx := context.Background()
	b := &model.Brand{Name: "Sells", FromName: "Blake", FromEmail: "blake@sells.test"}
	require.NoError(t, s.SaveBrand(ctx, b))
	c := &model.Campaign{
		BrandID: b.ID,
		Name:    "web-design",
		Limits:  model.CampaignLimits{DailySendLimit: sendLimit, DailyProspectLimit: 10, DailyEmailLimit: 10},
	}
	require.NoError(t, s.SaveCampaign(ctx, c))
	return b, c
}

// seedLead creates a prospect, an email and a lead in the given status.
func seedLead(t *testing.T, s Store, campaignID, domain string, status model.LeadStatus) (*model.Lead, *model.Email) {
	t.Helper()
	ctx := context.Background()
	p, _, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: domain, Name: domain, URL: "https://" + domain})
	require.NoError(t, err)
	_, err = s.AddEmail(ctx, model.Email{ProspectID: p.ID, Address: "jane@" + domain, IsDomainMatch: true, Confidence: 100})
	require.NoError(t, err)
	e, err := s.GetBestEmail(ctx, p.ID)
	require.NoError(t, err)
	l, _, err := s.CreateLead(ctx, model.Lead{CampaignID: campaignID, ProspectID: p.ID, Status: status})
	require.NoError(t, err)
	return l, e
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ExclusionsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		added, err := s.AddExclusion(ctx, model.Exclusion{Type: model.ExclusionDomain, Value: "acme.com", Reason: "asked"})
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.AddExclusion(ctx, model.Exclusion{Type: model.ExclusionDomain, Value: "acme.com", Reason: "other"})
		require.NoError(t, err)
		assert.False(t, added)

		list, err := s.ListExclusions(ctx, model.ExclusionDomain)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "asked", list[0].Reason)
	})

	t.Run("MatchDomainExclusion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.AddExclusion(ctx, model.Exclusion{Type: model.ExclusionEmail, Value: "ceo@globex.com"})
		require.NoError(t, err)
		_, err = s.AddExclusion(ctx, model.Exclusion{Type: model.ExclusionDomain, Value: "*.initech.com"})
		require.NoError(t, err)

		hit, err := s.MatchDomainExclusion(ctx, []string{"globex.com", "www.globex.com", "*.globex.com"}, "globex.com")
		require.NoError(t, err)
		assert.True(t, hit)

		hit, err = s.MatchDomainExclusion(ctx, []string{"hr.initech.com", "*.initech.com"}, "hr.initech.com")
		require.NoError(t, err)
		assert.True(t, hit)

		hit, err = s.MatchDomainExclusion(ctx, []string{"acme.com"}, "acme.com")
		require.NoError(t, err)
		assert.False(t, hit)

		hit, err = s.HasEmailExclusion(ctx, "ceo@globex.com")
		require.NoError(t, err)
		assert.True(t, hit)

		// LIKE wildcards in the domain match only themselves.
		hit, err = s.MatchDomainExclusion(ctx, []string{"gl_bex.com"}, "gl_bex.com")
		require.NoError(t, err)
		assert.False(t, hit)
		hit, err = s.MatchDomainExclusion(ctx, []string{"%.com"}, "%.com")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("BulkExclusions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.AddExclusions(ctx, []model.Exclusion{
			{Type: model.ExclusionDomain, Value: "a.com"},
			{Type: model.ExclusionDomain, Value: "b.com"},
			{Type: model.ExclusionDomain, Value: "a.com"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("GetOrCreateProspectFirstWriterWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p1, created, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com", Name: "Acme"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, p1.Verified)

		p2, created, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com", Name: "Acme Renamed"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, p1.ID, p2.ID)
		assert.Equal(t, "Acme", p2.Name)
	})

	t.Run("ProspectVerificationAndProcessed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, _, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com"})
		require.NoError(t, err)
		require.NoError(t, s.SetProspectVerification(ctx, p.ID, true, "agency keywords"))
		require.NoError(t, s.MarkProspectProcessed(ctx, p.ID))
		require.NoError(t, s.MarkProspectProcessed(ctx, p.ID))

		got, err := s.GetProspectByDomain(ctx, "acme.com")
		require.NoError(t, err)
		require.NotNil(t, got.Verified)
		assert.True(t, *got.Verified)
		assert.True(t, got.Processed)
		assert.Equal(t, "agency keywords", got.VerifyReason)

		missing, err := s.GetProspectByDomain(ctx, "nope.com")
		require.NoError(t, err)
		assert.Nil(t, missing)

		err = s.MarkProspectProcessed(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("BestEmailOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, _, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com"})
		require.NoError(t, err)
		for _, e := range []model.Email{
			{Address: "jane@gmail.com", IsDomainMatch: false, IsGeneric: false, Confidence: 70},
			{Address: "info@acme.com", IsDomainMatch: true, IsGeneric: true, Confidence: 80},
			{Address: "jane@acme.com", IsDomainMatch: true, IsGeneric: false, Confidence: 100},
		} {
			e.ProspectID = p.ID
			_, err := s.AddEmail(ctx, e)
			require.NoError(t, err)
		}
		added, err := s.AddEmail(ctx, model.Email{ProspectID: p.ID, Address: "jane@acme.com"})
		require.NoError(t, err)
		assert.False(t, added)

		best, err := s.GetBestEmail(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "jane@acme.com", best.Address)

		all, err := s.ListEmails(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "info@acme.com", all[1].Address)

		none, err := s.GetBestEmail(ctx, "other")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("CreateLeadUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)

		p, _, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com"})
		require.NoError(t, err)

		l1, created, err := s.CreateLead(ctx, model.Lead{CampaignID: c.ID, ProspectID: p.ID, SourceType: "search"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, model.LeadNew, l1.Status)

		l2, created, err := s.CreateLead(ctx, model.Lead{CampaignID: c.ID, ProspectID: p.ID})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, l1.ID, l2.ID)
		assert.Equal(t, "search", l2.SourceType)
	})

	t.Run("UpdateLeadStatusConditional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)
		l, _ := seedLead(t, s, c.ID, "acme.com", model.LeadNew)

		ok, err := s.UpdateLeadStatus(ctx, l.ID, []model.LeadStatus{model.LeadReady}, model.LeadOutreachSent)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.UpdateLeadStatus(ctx, l.ID, []model.LeadStatus{model.LeadNew}, model.LeadVerified)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetLead(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, model.LeadVerified, got.Status)

		leads, err := s.ListLeads(ctx, LeadFilter{CampaignID: c.ID, Status: model.LeadVerified})
		require.NoError(t, err)
		assert.Len(t, leads, 1)
	})

	t.Run("ReserveCounter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 2)
		day := model.Day(time.Now())

		peek, err := s.ReserveCounter(ctx, c.ID, model.CounterOutreachSent, day, false)
		require.NoError(t, err)
		assert.Equal(t, model.QuotaCheck{Allowed: true, Used: 0, Limit: 2, Remaining: 2}, *peek)

		for i := 1; i <= 2; i++ {
			check, err := s.ReserveCounter(ctx, c.ID, model.CounterOutreachSent, day, true)
			require.NoError(t, err)
			assert.True(t, check.Allowed)
			assert.Equal(t, i, check.Used)
		}

		check, err := s.ReserveCounter(ctx, c.ID, model.CounterOutreachSent, day, true)
		require.NoError(t, err)
		assert.False(t, check.Allowed)
		assert.Equal(t, 2, check.Used)
		assert.Equal(t, 0, check.Remaining)

		counters, err := s.GetCounters(ctx, c.ID, day)
		require.NoError(t, err)
		assert.Equal(t, 2, counters.Counts[model.CounterOutreachSent])
		assert.Equal(t, 0, counters.Counts[model.CounterEmailsFound])

		require.NoError(t, s.ResetCounters(ctx, c.ID, day))
		counters, err = s.GetCounters(ctx, c.ID, day)
		require.NoError(t, err)
		assert.Equal(t, 0, counters.Counts[model.CounterOutreachSent])
	})

	t.Run("ReserveCounterMissingCampaignRollsBack", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		day := model.Day(time.Now())

		_, err := s.ReserveCounter(ctx, "ghost", model.CounterProspectsAdded, day, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)

		counters, err := s.GetCounters(ctx, "ghost", day)
		require.NoError(t, err)
		assert.Equal(t, 0, counters.Counts[model.CounterProspectsAdded])

		_, err = s.ReserveCounter(ctx, "ghost", model.CounterKind("typo"), day, true)
		require.Error(t, err)
	})

	t.Run("QueueLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)
		l, e := seedLead(t, s, c.ID, "acme.com", model.LeadReady)

		item := &model.QueueItem{LeadID: l.ID, EmailID: e.ID, CampaignID: c.ID, ToAddress: e.Address, Subject: "Hi", Body: "Hello"}
		require.NoError(t, s.EnqueueItem(ctx, item))
		assert.Equal(t, model.QueuePending, item.Status)

		due, err := s.ListDueItems(ctx, time.Now().Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		queued, err := s.HasQueuedItem(ctx, l.ID, model.CategoryMain)
		require.NoError(t, err)
		assert.True(t, queued)
		queued, err = s.HasQueuedItem(ctx, l.ID, model.FollowUpCategory(1))
		require.NoError(t, err)
		assert.False(t, queued)

		ok, err := s.MarkSending(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.MarkSending(ctx, item.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		// An in-flight send already counts toward today's total.
		dayStart, dayEnd := model.DayBounds(time.Now())
		inFlight, err := s.CountSentBetween(ctx, dayStart, dayEnd)
		require.NoError(t, err)
		assert.Equal(t, 1, inFlight)

		log, err := s.CompleteSend(ctx, SendCompletion{
			ItemID:      item.ID,
			MessageID:   "<m1@sells.test>",
			SentAt:      time.Now(),
			AdvanceFrom: []model.LeadStatus{model.LeadReady},
			AdvanceTo:   model.LeadOutreachSent,
		})
		require.NoError(t, err)
		assert.Equal(t, model.CategoryMain, log.Category)

		got, err := s.GetQueueItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QueueSent, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.SentAt)

		lead, err := s.GetLead(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, model.LeadOutreachSent, lead.Status)

		start, end := model.DayBounds(time.Now())
		n, err := s.CountSentBetween(ctx, start, end)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		logs, err := s.ListInitialLogsSince(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})

	t.Run("QueueItemNeedsReference", func(t *testing.T) {
		s := newStore(t)
		err := s.EnqueueItem(context.Background(), &model.QueueItem{ToAddress: "a@b.com", Subject: "x", Body: "y"})
		require.Error(t, err)
	})

	t.Run("MarkFailedAndStats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)
		l, e := seedLead(t, s, c.ID, "acme.com", model.LeadReady)

		a := &model.QueueItem{LeadID: l.ID, EmailID: e.ID, ToAddress: e.Address, Subject: "a", Body: "a"}
		b := &model.QueueItem{LeadID: l.ID, EmailID: e.ID, ToAddress: e.Address, Subject: "b", Body: "b"}
		require.NoError(t, s.EnqueueItem(ctx, a))
		require.NoError(t, s.EnqueueItem(ctx, b))

		_, err := s.MarkSending(ctx, a.ID)
		require.NoError(t, err)
		require.NoError(t, s.MarkFailed(ctx, a.ID, "smtp: 550 mailbox unavailable"))

		got, err := s.GetQueueItem(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QueueFailed, got.Status)
		assert.Equal(t, "smtp: 550 mailbox unavailable", got.Error)

		stats, err := s.QueueStats(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, model.QueueStats{Pending: 1, Failed: 1}, *stats)
	})

	t.Run("ReleaseSending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)
		l, e := seedLead(t, s, c.ID, "acme.com", model.LeadReady)

		item := &model.QueueItem{LeadID: l.ID, EmailID: e.ID, ToAddress: e.Address, Subject: "a", Body: "a"}
		require.NoError(t, s.EnqueueItem(ctx, item))

		// Only claimed items can be released.
		require.ErrorIs(t, s.ReleaseSending(ctx, item.ID), ErrNotFound)

		ok, err := s.MarkSending(ctx, item.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.ReleaseSending(ctx, item.ID))

		got, err := s.GetQueueItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QueuePending, got.Status)
		assert.Equal(t, 0, got.Attempts)
	})

	t.Run("FollowUpsIdempotentAndCancel", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)
		l, e := seedLead(t, s, c.ID, "acme.com", model.LeadOutreachSent)

		mk := func(n int) []*model.QueueItem {
			return []*model.QueueItem{
				{LeadID: l.ID, EmailID: e.ID, ToAddress: e.Address, Subject: "f1", Body: "f1", Category: model.FollowUpCategory(1), Sequence: 1, ScheduledFor: time.Now().AddDate(0, 0, 3)},
				{LeadID: l.ID, EmailID: e.ID, ToAddress: e.Address, Subject: "f2", Body: "f2", Category: model.FollowUpCategory(2), Sequence: 2, ScheduledFor: time.Now().AddDate(0, 0, 7)},
			}[:n]
		}

		n, err := s.EnqueueFollowUps(ctx, "log-1", mk(2))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.EnqueueFollowUps(ctx, "log-1", mk(2))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		due, err := s.ListDueItems(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		deleted, err := s.DeletePendingFollowUps(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)
	})

	t.Run("DeleteProspectCascades", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, c := seedCampaign(t, s, 5)
		l, e := seedLead(t, s, c.ID, "acme.com", model.LeadReady)
		require.NoError(t, s.EnqueueItem(ctx, &model.QueueItem{LeadID: l.ID, EmailID: e.ID, ToAddress: e.Address, Subject: "s", Body: "b"}))

		require.NoError(t, s.DeleteProspect(ctx, l.ProspectID))

		_, err := s.GetLead(ctx, l.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		stats, err := s.QueueStats(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Pending)
	})

	t.Run("Leases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.AcquireLease(ctx, "dispatch", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AcquireLease(ctx, "dispatch", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.AcquireLease(ctx, "dispatch", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.ReleaseLease(ctx, "dispatch", "a"))
		ok, err = s.AcquireLease(ctx, "dispatch", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("TemplatesAndCampaigns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		b, c := seedCampaign(t, s, 5)

		c.Keywords = []string{"agency", "design"}
		require.NoError(t, s.SaveCampaign(ctx, c))
		got, err := s.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"agency", "design"}, got.Keywords)

		for _, tpl := range []*model.Template{
			{BrandID: b.ID, Name: "second", Category: model.FollowUpCategory(2), Sequence: 2, DelayDays: 7, Subject: "s", Body: "b", Active: true},
			{BrandID: b.ID, Name: "first", Category: model.FollowUpCategory(1), Sequence: 1, DelayDays: 3, Subject: "s", Body: "b", Active: true},
			{BrandID: b.ID, Name: "off", Category: model.FollowUpCategory(3), Sequence: 3, Subject: "s", Body: "b", Active: false},
			{BrandID: b.ID, Name: "intro", Category: model.CategoryMain, Subject: "s", Body: "b", Active: true},
		} {
			require.NoError(t, s.SaveTemplate(ctx, tpl))
		}

		fus, err := s.ListFollowUpTemplates(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, fus, 2)
		assert.Equal(t, "first", fus[0].Name)
		assert.Equal(t, "second", fus[1].Name)

		campaigns, err := s.ListCampaigns(ctx)
		require.NoError(t, err)
		assert.Len(t, campaigns, 1)

		_, err = s.GetBrand(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
