package model

import "time"

// CounterKind names a daily quota counter.
type CounterKind string

const (
	CounterProspectsAdded CounterKind = "prospects_added"
	CounterEmailsFound    CounterKind = "emails_found"
	CounterOutreachSent   CounterKind = "outreach_sent"
)

// CounterKinds lists every quota counter.
var CounterKinds = []CounterKind{CounterProspectsAdded, CounterEmailsFound, CounterOutreachSent}

// Valid reports whether k is a known counter.
func (k CounterKind) Valid() bool {
	switch k {
	case CounterProspectsAdded, CounterEmailsFound, CounterOutreachSent:
		return true
	default:
		return false
	}
}

// DayFormat is the layout of counter day keys.
const DayFormat = "2006-01-02"

// Day returns the UTC day key for t.
func Day(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// DayBounds returns the UTC [start, end) interval of the day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// DailyCounter holds one campaign's counters for one day.
type DailyCounter struct {
	Day        string              `json:"day"`
	CampaignID string              `json:"campaign_id"`
	Counts     map[CounterKind]int `json:"counts"`
}

// QuotaCheck is the outcome of a quota check or reservation.
type QuotaCheck struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
}

// NewQuotaCheck builds a check from the current usage and limit.
func NewQuotaCheck(used, limit int) QuotaCheck {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return QuotaCheck{Allowed: used < limit, Used: used, Limit: limit, Remaining: remaining}
}
