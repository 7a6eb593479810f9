// Package discovery finds candidate organizations for intake, either from a
// web search or from a list of domains.
package discovery

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// Source types recorded on prospects.
const (
	SourceSearch = "search"
	SourceFile   = "file"
	SourceManual = "manual"
)

// Query is one search request.
type Query struct {
	Text    string
	Country string
	Limit   int
}

// Search turns Jina search results into candidates.
type Search struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewSearch creates a search source. Consecutive transient failures open
// the breaker and later queries fail fast.
func NewSearch(client jina.Client, breaker resilience.BreakerConfig) *Search {
	if breaker.Counts == nil {
		breaker.Counts = resilience.IsTransient
	}
	return &Search{client: client, breaker: resilience.NewCircuitBreaker("jina-search", breaker)}
}

// Find runs the queries in order and returns candidates unique by domain.
// A failed query is logged and skipped unless every query failed.
func (s *Search) Find(ctx context.Context, queries []Query) ([]pipeline.Candidate, error) {
	log := zap.L().With(zap.String("component", "discovery"))

	seen := make(map[string]bool)
	var (
		out     []pipeline.Candidate
		lastErr error
		failed  int
	)
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "discovery: search")
		}
		results, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]jina.SearchResult, error) {
			var opts []jina.SearchOption
			if q.Country != "" {
				opts = append(opts, jina.WithCountry(q.Country))
			}
			return s.client.Search(ctx, q.Text, opts...)
		})
		if err != nil {
			failed++
			lastErr = err
			log.Warn("discovery: query failed", zap.String("query", q.Text), zap.Error(err))
			continue
		}

		added := 0
		for _, r := range results {
			if q.Limit > 0 && added >= q.Limit {
				break
			}
			domain := exclusion.NormalizeDomain(r.URL)
			if domain == "" || seen[domain] {
				continue
			}
			seen[domain] = true
			added++
			out = append(out, pipeline.Candidate{
				Domain:      domain,
				URL:         r.URL,
				Name:        siteName(r.Title),
				SourceType:  SourceSearch,
				SourceQuery: q.Text,
			})
		}
		log.Info("discovery: query complete",
			zap.String("query", q.Text), zap.Int("results", len(results)), zap.Int("new", added))
	}

	if failed > 0 && failed == len(queries) {
		return nil, eris.Wrap(lastErr, "discovery: all queries failed")
	}
	return out, nil
}

// siteName keeps the part of a page title that names the organization:
// "Acme Studio | Web Design in Leeds" becomes "Acme Studio".
func siteName(title string) string {
	for _, sep := range []string{" | ", " - ", " – ", " — ", ": "} {
		if before, _, ok := strings.Cut(title, sep); ok {
			title = before
		}
	}
	return strings.TrimSpace(title)
}

// ReadCandidates parses one domain or URL per line. Blank lines and lines
// starting with # are ignored, as are duplicates.
func ReadCandidates(r io.Reader, sourceQuery string) ([]pipeline.Candidate, error) {
	seen := make(map[string]bool)
	var out []pipeline.Candidate

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Allow "domain,name" rows.
		raw, name, _ := strings.Cut(line, ",")
		raw = strings.TrimSpace(raw)
		domain := exclusion.NormalizeDomain(raw)
		if domain == "" || seen[domain] {
			continue
		}
		seen[domain] = true
		c := pipeline.Candidate{
			Domain:      domain,
			Name:        strings.TrimSpace(name),
			SourceType:  SourceFile,
			SourceQuery: sourceQuery,
		}
		if strings.Contains(raw, "://") {
			c.URL = raw
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: read candidates")
	}
	return out, nil
}
