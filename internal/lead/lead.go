// Package lead implements the lead lifecycle state machine.
package lead

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrInvalidTransition is returned when the requested move is not an edge
	// of the state graph.
	ErrInvalidTransition = eris.New("lead: invalid transition")
	// ErrStaleStatus is returned when another writer moved the lead first.
	ErrStaleStatus = eris.New("lead: status changed concurrently")
)

// forward lists the single-step edges of the happy path. REJECTED and
// SKIPPED are reachable from every non-terminal state.
var forward = map[model.LeadStatus][]model.LeadStatus{
	model.LeadNew:          {model.LeadVerified},
	model.LeadVerified:     {model.LeadEmailFound},
	model.LeadEmailFound:   {model.LeadReady},
	model.LeadReady:        {model.LeadOutreachSent},
	model.LeadOutreachSent: {model.LeadReplied, model.LeadBounced},
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to model.LeadStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == model.LeadRejected || to == model.LeadSkipped {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources returns every status that may move to to.
func Sources(to model.LeadStatus) []model.LeadStatus {
	var out []model.LeadStatus
	for _, from := range model.AllLeadStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Store is the persistence the machine needs.
type Store interface {
	CreateLead(ctx context.Context, l model.Lead) (*model.Lead, bool, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) (bool, error)
}

// FollowUpCanceler drops queued follow-ups for a lead.
type FollowUpCanceler interface {
	CancelFollowUps(ctx context.Context, leadID string) (int, error)
}

// Machine applies validated transitions with conditional writes.
type Machine struct {
	store    Store
	canceler FollowUpCanceler
	log      *zap.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithFollowUpCanceler cancels pending follow-ups when a lead replies or is
// rejected.
func WithFollowUpCanceler(c FollowUpCanceler) Option {
	return func(m *Machine) { m.canceler = c }
}

// NewMachine creates a Machine.
func NewMachine(s Store, opts ...Option) *Machine {
	m := &Machine{store: s, log: zap.L().With(zap.String("component", "lead"))}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create inserts a NEW lead for (campaign, prospect) or returns the existing
// one with created=false.
func (m *Machine) Create(ctx context.Context, campaignID, prospectID, sourceType, sourceQuery string) (*model.Lead, bool, error) {
	l, created, err := m.store.CreateLead(ctx, model.Lead{
		CampaignID:  campaignID,
		ProspectID:  prospectID,
		Status:      model.LeadNew,
		SourceType:  sourceType,
		SourceQuery: sourceQuery,
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "lead: create %s/%s", campaignID, prospectID)
	}
	return l, created, nil
}

// Transition moves the lead to to. Moving to the current status is a no-op.
// The write only succeeds if the status is still the one that was validated.
func (m *Machine) Transition(ctx context.Context, leadID string, to model.LeadStatus) (*model.Lead, error) {
	l, err := m.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "lead: load %s", leadID)
	}
	if l.Status == to {
		return l, nil
	}
	if !CanTransition(l.Status, to) {
		return nil, eris.Wrapf(ErrInvalidTransition, "lead %s: %s -> %s", leadID, l.Status, to)
	}

	ok, err := m.store.UpdateLeadStatus(ctx, leadID, []model.LeadStatus{l.Status}, to)
	if err != nil {
		return nil, eris.Wrapf(err, "lead: update %s", leadID)
	}
	if !ok {
		return nil, eris.Wrapf(ErrStaleStatus, "lead %s: expected %s", leadID, l.Status)
	}

	from := l.Status
	l.Status = to
	m.log.Debug("lead transitioned",
		zap.String("lead_id", leadID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	if m.canceler != nil && (to == model.LeadReplied || to == model.LeadRejected) {
		n, err := m.canceler.CancelFollowUps(ctx, leadID)
		if err != nil {
			return l, eris.Wrapf(err, "lead: cancel follow-ups %s", leadID)
		}
		if n > 0 {
			m.log.Info("follow-ups cancelled", zap.String("lead_id", leadID), zap.Int("count", n))
		}
	}
	return l, nil
}

// Advance walks the lead forward one step at a time until it reaches to.
// It stops without error if the lead is already at or past to.
func (m *Machine) Advance(ctx context.Context, leadID string, to model.LeadStatus) (*model.Lead, error) {
	target := rank(to)
	if target < 0 {
		return nil, eris.Wrapf(ErrInvalidTransition, "lead %s: %s is not on the forward path", leadID, to)
	}
	for {
		l, err := m.store.GetLead(ctx, leadID)
		if err != nil {
			return nil, eris.Wrapf(err, "lead: load %s", leadID)
		}
		cur := rank(l.Status)
		if cur < 0 || cur >= target {
			return l, nil
		}
		next := forwardPath[cur+1]
		if _, err := m.Transition(ctx, leadID, next); err != nil {
			return nil, err
		}
	}
}

var forwardPath = []model.LeadStatus{
	model.LeadNew, model.LeadVerified, model.LeadEmailFound, model.LeadReady, model.LeadOutreachSent,
}

func rank(s model.LeadStatus) int {
	for i, p := range forwardPath {
		if p == s {
			return i
		}
	}
	return -1
}
