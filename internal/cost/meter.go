package cost

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// Totals is the usage a Meter has seen.
type Totals struct {
	ClaudeCalls  int     `json:"claude_calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	JinaPages    int     `json:"jina_pages"`
	JinaTokens   int64   `json:"jina_tokens"`
	USD          float64 `json:"usd"`
}

// Meter accumulates usage across concurrent calls.
type Meter struct {
	calc *Calculator

	mu     sync.Mutex
	totals Totals
}

// NewMeter creates a Meter pricing usage with calc.
func NewMeter(calc *Calculator) *Meter {
	return &Meter{calc: calc}
}

// AddClaude records one Claude call.
func (m *Meter) AddClaude(model string, u anthropic.Usage) {
	usd := m.calc.Claude(model, u.InputTokens, u.OutputTokens)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.ClaudeCalls++
	m.totals.InputTokens += u.InputTokens
	m.totals.OutputTokens += u.OutputTokens
	m.totals.USD += usd
}

// AddJina records one page read.
func (m *Meter) AddJina(u jina.Usage) {
	usd := m.calc.Jina(u.Tokens)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.JinaPages++
	m.totals.JinaTokens += u.Tokens
	m.totals.USD += usd
}

// Totals returns a copy of the running totals.
func (m *Meter) Totals() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// Log writes the totals at info level.
func (m *Meter) Log(purpose string) {
	t := m.Totals()
	zap.L().Info("provider usage",
		zap.String("purpose", purpose),
		zap.Int("claude_calls", t.ClaudeCalls),
		zap.Int64("input_tokens", t.InputTokens),
		zap.Int64("output_tokens", t.OutputTokens),
		zap.Int("jina_pages", t.JinaPages),
		zap.Int64("jina_tokens", t.JinaTokens),
		zap.Float64("estimated_usd", t.USD),
	)
}

// Reader wraps a Jina client so every page read is metered.
func (m *Meter) Reader(c jina.Client) jina.Client {
	return &meteredReader{Client: c, m: m}
}

// Claude wraps an Anthropic client so every message is metered.
func (m *Meter) Claude(c anthropic.Client) anthropic.Client {
	return &meteredClaude{c: c, m: m}
}

type meteredReader struct {
	jina.Client
	m *Meter
}

func (r *meteredReader) Read(ctx context.Context, targetURL string) (*jina.Page, error) {
	page, err := r.Client.Read(ctx, targetURL)
	if err == nil && page != nil {
		r.m.AddJina(page.Usage)
	}
	return page, err
}

type meteredClaude struct {
	c anthropic.Client
	m *Meter
}

func (c *meteredClaude) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	resp, err := c.c.CreateMessage(ctx, req)
	if err == nil && resp != nil {
		model := req.Model
		if model == "" {
			model = resp.Model
		}
		c.m.AddClaude(model, resp.Usage)
	}
	return resp, err
}
