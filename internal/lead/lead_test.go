package lead

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fakeCanceler struct {
	mu    sync.Mutex
	leads []string
}

func (f *fakeCanceler) CancelFollowUps(_ context.Context, leadID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, leadID)
	return 2, nil
}

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *model.Lead, store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	b := &model.Brand{Name: "Sells"}
	require.NoError(t, s.SaveBrand(ctx, b))
	c := &model.Campaign{BrandID: b.ID, Name: "web"}
	require.NoError(t, s.SaveCampaign(ctx, c))
	p, _, err := s.GetOrCreateProspect(ctx, model.Prospect{Domain: "acme.com"})
	require.NoError(t, err)

	m := NewMachine(s, opts...)
	l, created, err := m.Create(ctx, c.ID, p.ID, "search", "web agency")
	require.NoError(t, err)
	require.True(t, created)
	return m, l, s
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to model.LeadStatus
		want     bool
	}{
		{model.LeadNew, model.LeadVerified, true},
		{model.LeadVerified, model.LeadEmailFound, true},
		{model.LeadEmailFound, model.LeadReady, true},
		{model.LeadReady, model.LeadOutreachSent, true},
		{model.LeadOutreachSent, model.LeadReplied, true},
		{model.LeadOutreachSent, model.LeadBounced, true},
		{model.LeadNew, model.LeadReady, false},
		{model.LeadReady, model.LeadVerified, false},
		{model.LeadOutreachSent, model.LeadReady, false},
		{model.LeadNew, model.LeadRejected, true},
		{model.LeadReady, model.LeadSkipped, true},
		{model.LeadOutreachSent, model.LeadRejected, true},
		{model.LeadReplied, model.LeadRejected, false},
		{model.LeadSkipped, model.LeadNew, false},
		{model.LeadBounced, model.LeadReplied, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSources(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []model.LeadStatus{model.LeadReady}, Sources(model.LeadOutreachSent))
	assert.Len(t, Sources(model.LeadRejected), 5)
}

func TestCreateIsIdempotent(t *testing.T) {
	m, l, _ := newTestMachine(t)

	again, created, err := m.Create(context.Background(), l.CampaignID, l.ProspectID, "manual", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, l.ID, again.ID)
	assert.Equal(t, "search", again.SourceType)
	assert.Equal(t, model.LeadNew, again.Status)
}

func TestTransition_Forward(t *testing.T) {
	m, l, _ := newTestMachine(t)
	ctx := context.Background()

	for _, to := range []model.LeadStatus{model.LeadVerified, model.LeadEmailFound, model.LeadReady} {
		got, err := m.Transition(ctx, l.ID, to)
		require.NoError(t, err)
		assert.Equal(t, to, got.Status)
	}

	got, err := m.Transition(ctx, l.ID, model.LeadReady)
	require.NoError(t, err, "same-status transition is a no-op")
	assert.Equal(t, model.LeadReady, got.Status)
}

func TestTransition_RejectsRegression(t *testing.T) {
	m, l, s := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Transition(ctx, l.ID, model.LeadVerified)
	require.NoError(t, err)

	_, err = m.Transition(ctx, l.ID, model.LeadNew)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	got, err := s.GetLead(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadVerified, got.Status)
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	m, l, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Transition(ctx, l.ID, model.LeadSkipped)
	require.NoError(t, err)

	_, err = m.Transition(ctx, l.ID, model.LeadRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_ConcurrentWritersOneWins(t *testing.T) {
	m, l, s := newTestMachine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Transition(ctx, l.ID, model.LeadVerified)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrStaleStatus)
		}
	}
	got, err := s.GetLead(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadVerified, got.Status)
}

func TestTransition_ReplyCancelsFollowUps(t *testing.T) {
	fc := &fakeCanceler{}
	m, l, _ := newTestMachine(t, WithFollowUpCanceler(fc))
	ctx := context.Background()

	_, err := m.Advance(ctx, l.ID, model.LeadOutreachSent)
	require.NoError(t, err)
	assert.Empty(t, fc.leads)

	_, err = m.Transition(ctx, l.ID, model.LeadReplied)
	require.NoError(t, err)
	assert.Equal(t, []string{l.ID}, fc.leads)
}

func TestAdvance(t *testing.T) {
	m, l, _ := newTestMachine(t)
	ctx := context.Background()

	got, err := m.Advance(ctx, l.ID, model.LeadReady)
	require.NoError(t, err)
	assert.Equal(t, model.LeadReady, got.Status)

	got, err = m.Advance(ctx, l.ID, model.LeadVerified)
	require.NoError(t, err, "advancing to an earlier status is a no-op")
	assert.Equal(t, model.LeadReady, got.Status)

	_, err = m.Advance(ctx, l.ID, model.LeadReplied)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_MissingLead(t *testing.T) {
	m, _, _ := newTestMachine(t)

	_, err := m.Transition(context.Background(), "ghost", model.LeadVerified)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
