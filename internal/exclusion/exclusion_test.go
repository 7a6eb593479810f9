package exclusion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return NewGuard(s)
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Acme.com", "acme.com"},
		{"  www.Acme.com  ", "acme.com"},
		{"https://www.acme.com/about?x=1", "acme.com"},
		{"http://acme.com:8080/", "acme.com"},
		{"acme.com/contact", "acme.com"},
		{"jane@acme.com", "acme.com"},
		{"acme.com.", "acme.com"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomain(tt.in))
		})
	}
}

func TestDomainCandidates(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"a.b.acme.com", "www.a.b.acme.com", "*.a.b.acme.com", "*.b.acme.com", "*.acme.com"},
		domainCandidates("a.b.acme.com"),
	)
	assert.Equal(t, []string{"acme.com", "www.acme.com", "*.acme.com"}, domainCandidates("acme.com"))
}

func TestGuard_WWWVariantExcluded(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	added, err := g.Exclude(ctx, model.ExclusionDomain, "acme.com", "unsubscribed")
	require.NoError(t, err)
	assert.True(t, added)

	for _, in := range []string{"acme.com", "www.acme.com", "https://WWW.Acme.com/contact"} {
		hit, err := g.IsExcluded(ctx, in)
		require.NoError(t, err)
		assert.True(t, hit, in)
	}

	hit, err := g.IsExcluded(ctx, "notacme.com")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGuard_ParentWildcard(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	_, err := g.Exclude(ctx, model.ExclusionDomain, "*.globex.com", "")
	require.NoError(t, err)

	hit, err := g.IsExcluded(ctx, "eu.shop.globex.com")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestGuard_EmailExclusionCoversDomain(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	_, err := g.Exclude(ctx, model.ExclusionEmail, " CEO@Initech.com ", "replied stop")
	require.NoError(t, err)

	hit, err := g.IsEmailExcluded(ctx, "ceo@initech.com")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = g.IsExcluded(ctx, "initech.com")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestGuard_EmailAtExcludedDomain(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	_, err := g.Exclude(ctx, model.ExclusionDomain, "hooli.com", "")
	require.NoError(t, err)

	hit, err := g.IsEmailExcluded(ctx, "gavin@hooli.com")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = g.IsEmailExcluded(ctx, "gavin@piedpiper.com")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGuard_ExcludeIdempotentKeepsReason(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	added, err := g.Exclude(ctx, model.ExclusionDomain, "acme.com", "first")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = g.Exclude(ctx, model.ExclusionDomain, "www.acme.com", "second")
	require.NoError(t, err)
	assert.False(t, added)

	list, err := g.List(ctx, model.ExclusionDomain)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].Reason)
}

func TestGuard_ExcludeRejectsBadInput(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	_, err := g.Exclude(ctx, model.ExclusionType("phone"), "555", "")
	assert.Error(t, err)

	_, err = g.Exclude(ctx, model.ExclusionEmail, "not-an-email", "")
	assert.Error(t, err)

	_, err = g.Exclude(ctx, model.ExclusionDomain, "   ", "")
	assert.Error(t, err)
}

func TestGuard_ExcludeAll(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	n, err := g.ExcludeAll(ctx, model.ExclusionDomain, []string{"a.com", "www.a.com", "b.com", ""}, "import")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hit, err := g.IsExcluded(ctx, "b.com")
	require.NoError(t, err)
	assert.True(t, hit)
}
