// Package monitoring watches queue health and posts webhook alerts.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Snapshot is a point-in-time view of dispatch health.
type Snapshot struct {
	Pending      int       `json:"pending"`
	Sending      int       `json:"sending"`
	SentToday    int       `json:"sent_today"`
	Failed       int       `json:"failed"`
	OpenBreakers []string  `json:"open_breakers,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// QueueReader reports queue counts.
type QueueReader interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// BreakerSource reports per-relay breaker states.
type BreakerSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers snapshots. Breakers may be nil.
type Collector struct {
	queue    QueueReader
	breakers BreakerSource
	now      func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(q QueueReader, b BreakerSource) *Collector {
	return &Collector{queue: q, breakers: b, now: time.Now}
}

// Collect reads the current queue counts and open breakers.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	st, err := c.queue.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: queue stats")
	}
	snap := &Snapshot{
		Pending:     st.Pending,
		Sending:     st.Sending,
		SentToday:   st.SentToday,
		Failed:      st.Failed,
		CollectedAt: c.now().UTC(),
	}
	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state == resilience.CircuitOpen {
				snap.OpenBreakers = append(snap.OpenBreakers, name)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}
	return snap, nil
}
