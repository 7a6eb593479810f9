// Package verify decides whether a prospect's website fits a campaign.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// Verification modes.
const (
	ModeKeyword = "keyword"
	ModeAI      = "ai"
	ModeNone    = "none"
)

// maxContent bounds the page text sent to the model.
const maxContent = 8000

// New returns the verifier selected by cfg.Mode. Campaign keywords take
// precedence over the configured defaults.
func New(cfg config.VerifyConfig, reader jina.Client, ai anthropic.Client, model string, keywords []string) (pipeline.Verifier, error) {
	if len(keywords) == 0 {
		keywords = cfg.Keywords
	}
	switch cfg.Mode {
	case ModeKeyword, "":
		if len(keywords) == 0 {
			return nil, eris.New("verify: keyword mode needs campaign or configured keywords")
		}
		return NewKeyword(reader, keywords), nil
	case ModeAI:
		if ai == nil {
			return nil, eris.New("verify: ai mode needs an anthropic client")
		}
		return NewAI(reader, ai, model, keywords), nil
	case ModeNone:
		return None{}, nil
	default:
		return nil, eris.Errorf("verify: unknown mode %q", cfg.Mode)
	}
}

// None accepts every website.
type None struct{}

func (None) Verify(context.Context, string) (pipeline.Verdict, error) {
	return pipeline.Verdict{Verified: true, Reasoning: "verification disabled"}, nil
}

// Keyword accepts a website whose text mentions any campaign keyword.
type Keyword struct {
	reader   jina.Client
	keywords []string
}

// NewKeyword creates a keyword verifier. Matching is case-insensitive.
func NewKeyword(reader jina.Client, keywords []string) *Keyword {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Keyword{reader: reader, keywords: kw}
}

func (v *Keyword) Verify(ctx context.Context, url string) (pipeline.Verdict, error) {
	page, err := v.reader.Read(ctx, url)
	if err != nil {
		return pipeline.Verdict{}, eris.Wrap(err, "verify: read site")
	}

	text := strings.ToLower(page.Title + "\n" + page.Content)
	var matched []string
	for _, k := range v.keywords {
		if strings.Contains(text, k) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return pipeline.Verdict{Reasoning: "no campaign keywords on site"}, nil
	}
	return pipeline.Verdict{
		Verified:  true,
		Reasoning: "matched: " + strings.Join(matched, ", "),
	}, nil
}

const aiSystemPrompt = `You screen company websites for a B2B outreach campaign.
Decide whether the company is a real business that offers the services described.
Directories, marketplaces, job boards, news sites and parked domains are not relevant.
Respond with JSON only: {"relevant": true|false, "reason": "<one sentence>"}`

// AI asks a model whether the website fits the campaign.
type AI struct {
	reader   jina.Client
	ai       anthropic.Client
	model    string
	keywords []string
}

// NewAI creates a model-backed verifier.
func NewAI(reader jina.Client, ai anthropic.Client, model string, keywords []string) *AI {
	return &AI{reader: reader, ai: ai, model: model, keywords: keywords}
}

type aiVerdict struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

func (v *AI) Verify(ctx context.Context, url string) (pipeline.Verdict, error) {
	page, err := v.reader.Read(ctx, url)
	if err != nil {
		return pipeline.Verdict{}, eris.Wrap(err, "verify: read site")
	}

	content := page.Content
	if len(content) > maxContent {
		content = content[:maxContent]
	}
	prompt := fmt.Sprintf("Services sought: %s\n\nWebsite: %s\nTitle: %s\n\nContent:\n%s",
		strings.Join(v.keywords, ", "), url, page.Title, content)

	resp, err := v.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     v.model,
		MaxTokens: 200,
		System:    aiSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return pipeline.Verdict{}, eris.Wrap(err, "verify: model request")
	}
	resp.Usage.Log(v.model, "verify")

	verdict, err := parseVerdict(resp.Text())
	if err != nil {
		zap.L().Warn("verify: unparseable model reply",
			zap.String("url", url), zap.String("reply", resp.Text()))
		return pipeline.Verdict{}, err
	}
	return verdict, nil
}

// parseVerdict reads the JSON object in text, tolerating surrounding prose.
// A bare YES/NO reply is accepted too.
func parseVerdict(text string) (pipeline.Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var out aiVerdict
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
			return pipeline.Verdict{}, eris.Wrap(err, "verify: parse model JSON")
		}
		return pipeline.Verdict{Verified: out.Relevant, Reasoning: out.Reason}, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(upper, "YES"):
		return pipeline.Verdict{Verified: true, Reasoning: strings.TrimSpace(text)}, nil
	case strings.HasPrefix(upper, "NO"):
		return pipeline.Verdict{Reasoning: strings.TrimSpace(text)}, nil
	}
	return pipeline.Verdict{}, eris.Errorf("verify: no verdict in reply: %q", text)
}
