package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeadStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status LeadStatus
		want   bool
	}{
		{LeadNew, false},
		{LeadReady, false},
		{LeadOutreachSent, false},
		{LeadReplied, true},
		{LeadBounced, true},
		{LeadRejected, true},
		{LeadSkipped, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestCampaignLimitsFor(t *testing.T) {
	t.Parallel()

	l := CampaignLimits{DailySendLimit: 50, DailyProspectLimit: 100, DailyEmailLimit: 75}
	assert.Equal(t, 50, l.For(CounterOutreachSent))
	assert.Equal(t, 100, l.For(CounterProspectsAdded))
	assert.Equal(t, 75, l.For(CounterEmailsFound))
	assert.Equal(t, 0, l.For(CounterKind("bogus")))
}

func TestCounterKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range CounterKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, CounterKind("outreach_snet").Valid())
}

func TestFollowUpCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "followup_2", FollowUpCategory(2))
	assert.True(t, IsFollowUpCategory("followup_4"))
	assert.False(t, IsFollowUpCategory(CategoryMain))
}

func TestDayBounds(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 3, 9, 22, 30, 0, 0, loc) // 03:30 UTC on the 10th
	start, end := DayBounds(ts)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, start.Add(24*time.Hour), end)
	assert.Equal(t, "2026-03-10", Day(ts))
}
