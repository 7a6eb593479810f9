// Package quota enforces per-campaign daily limits.
package quota

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Store is the persistence the tracker needs.
type Store interface {
	ReserveCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string, consume bool) (*model.QuotaCheck, error)
	ReleaseCounter(ctx context.Context, campaignID string, kind model.CounterKind, day string) error
	GetCounters(ctx context.Context, campaignID, day string) (*model.DailyCounter, error)
	ResetCounters(ctx context.Context, campaignID, day string) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
}

// Result is the outcome of a check or reservation.
type Result = model.QuotaCheck

// Usage is one counter's standing for today.
type Usage struct {
	Kind      model.CounterKind `json:"kind"`
	Used      int               `json:"used"`
	Limit     int               `json:"limit"`
	Remaining int               `json:"remaining"`
}

// Stats summarizes a campaign's counters for one day.
type Stats struct {
	Day        string  `json:"day"`
	CampaignID string  `json:"campaign_id"`
	Usage      []Usage `json:"usage"`
}

// Tracker reserves quota against the store. Days are UTC.
type Tracker struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

// NewTracker creates a Tracker.
func NewTracker(s Store) *Tracker {
	return &Tracker{
		store: s,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "quota")),
	}
}

// CheckAndReserve consumes one unit of kind for today if the campaign limit
// allows it. The check and the increment are one transaction.
func (t *Tracker) CheckAndReserve(ctx context.Context, campaignID string, kind model.CounterKind) (Result, error) {
	return t.reserve(ctx, campaignID, kind, true)
}

// Peek reports the current standing without consuming.
func (t *Tracker) Peek(ctx context.Context, campaignID string, kind model.CounterKind) (Result, error) {
	return t.reserve(ctx, campaignID, kind, false)
}

func (t *Tracker) reserve(ctx context.Context, campaignID string, kind model.CounterKind, consume bool) (Result, error) {
	day := model.Day(t.now())
	check, err := t.store.ReserveCounter(ctx, campaignID, kind, day, consume)
	if err != nil {
		return Result{}, eris.Wrapf(err, "quota: reserve %s for %s", kind, campaignID)
	}
	if consume && !check.Allowed {
		t.log.Info("daily quota reached",
			zap.String("campaign_id", campaignID),
			zap.String("kind", string(kind)),
			zap.Int("limit", check.Limit),
		)
	}
	return *check, nil
}

// Release returns one unit of kind reserved today that went unused.
func (t *Tracker) Release(ctx context.Context, campaignID string, kind model.CounterKind) error {
	day := model.Day(t.now())
	err := t.store.ReleaseCounter(ctx, campaignID, kind, day)
	return eris.Wrapf(err, "quota: release %s for %s", kind, campaignID)
}

// Reset zeroes today's counters for the campaign. Administrative only.
func (t *Tracker) Reset(ctx context.Context, campaignID string) error {
	day := model.Day(t.now())
	if err := t.store.ResetCounters(ctx, campaignID, day); err != nil {
		return eris.Wrapf(err, "quota: reset %s", campaignID)
	}
	t.log.Warn("daily counters reset", zap.String("campaign_id", campaignID), zap.String("day", day))
	return nil
}

// TodayStats returns used, limit and remaining for every counter.
func (t *Tracker) TodayStats(ctx context.Context, campaignID string) (*Stats, error) {
	c, err := t.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: load campaign %s", campaignID)
	}
	day := model.Day(t.now())
	counters, err := t.store.GetCounters(ctx, campaignID, day)
	if err != nil {
		return nil, eris.Wrapf(err, "quota: load counters %s", campaignID)
	}

	st := &Stats{Day: day, CampaignID: campaignID}
	for _, kind := range model.CounterKinds {
		check := model.NewQuotaCheck(counters.Counts[kind], c.Limits.For(kind))
		st.Usage = append(st.Usage, Usage{
			Kind:      kind,
			Used:      check.Used,
			Limit:     check.Limit,
			Remaining: check.Remaining,
		})
	}
	return st, nil
}
