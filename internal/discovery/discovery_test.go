package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

type fakeSearch struct {
	results map[string][]jina.SearchResult
	err     error
	calls   int
}

func (f *fakeSearch) Read(context.Context, string) (*jina.Page, error) { return nil, nil }

func (f *fakeSearch) Search(_ context.Context, q string, _ ...jina.SearchOption) ([]jina.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func TestFind(t *testing.T) {
	f := &fakeSearch{results: map[string][]jina.SearchResult{
		"web design leeds": {
			{Title: "Acme Studio | Web Design in Leeds", URL: "https://www.acme.com/services"},
			{Title: "Beta - Home", URL: "https://beta.io"},
			{Title: "Acme again", URL: "https://acme.com"},
		},
		"web design york": {
			{Title: "Beta", URL: "https://beta.io/about"},
			{Title: "Gamma Digital", URL: "https://gamma.co.uk"},
			{Title: "Delta", URL: "https://delta.dev"},
		},
	}}
	s := NewSearch(f, resilience.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	got, err := s.Find(context.Background(), []Query{
		{Text: "web design leeds"},
		{Text: "web design york", Limit: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Candidate{
		{Domain: "acme.com", URL: "https://www.acme.com/services", Name: "Acme Studio", SourceType: SourceSearch, SourceQuery: "web design leeds"},
		{Domain: "beta.io", URL: "https://beta.io", Name: "Beta", SourceType: SourceSearch, SourceQuery: "web design leeds"},
		{Domain: "gamma.co.uk", URL: "https://gamma.co.uk", Name: "Gamma Digital", SourceType: SourceSearch, SourceQuery: "web design york"},
	}, got)
}

func TestFind_AllQueriesFail(t *testing.T) {
	f := &fakeSearch{err: resilience.NewTransientError(errors.New("503"), 503)}
	s := NewSearch(f, resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	_, err := s.Find(context.Background(), []Query{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery: all queries failed")
	// The third query is rejected by the open breaker without a call.
	assert.Equal(t, 2, f.calls)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestFind_PartialFailure(t *testing.T) {
	f := &fakeSearch{results: map[string][]jina.SearchResult{"ok": {{Title: "Ok", URL: "https://ok.test"}}}}
	s := NewSearch(f, resilience.BreakerConfig{})

	got, err := s.Find(context.Background(), []Query{{Text: "empty"}, {Text: "ok"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok.test", got[0].Domain)
}

func TestSiteName(t *testing.T) {
	assert.Equal(t, "Acme", siteName("Acme | Home - Leeds"))
	assert.Equal(t, "Plain", siteName(" Plain "))
	assert.Equal(t, "Studio", siteName("Studio: Web design"))
}

func TestReadCandidates(t *testing.T) {
	in := `# agencies
acme.com
https://www.Beta.io/contact, Beta Ltd

ACME.com
`
	got, err := ReadCandidates(strings.NewReader(in), "leeds.txt")
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Candidate{
		{Domain: "acme.com", SourceType: SourceFile, SourceQuery: "leeds.txt"},
		{Domain: "beta.io", URL: "https://www.Beta.io/contact", Name: "Beta Ltd", SourceType: SourceFile, SourceQuery: "leeds.txt"},
	}, got)
}
