// Package plan loads brands, campaigns and templates from a YAML file and
// saves them to the store.
package plan

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/outreach"
)

// Plan is the file layout.
type Plan struct {
	Brands    []Brand    `yaml:"brands"`
	Campaigns []Campaign `yaml:"campaigns"`
	Templates []Template `yaml:"templates"`
}

// Brand is a sender identity. The SMTP password may reference environment
// variables as ${NAME}.
type Brand struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	FromName  string           `yaml:"from_name"`
	FromEmail string           `yaml:"from_email"`
	SMTP      model.SMTPConfig `yaml:"smtp"`
}

// Campaign belongs to the brand named by Brand.
type Campaign struct {
	ID        string   `yaml:"id"`
	Brand     string   `yaml:"brand"`
	Name      string   `yaml:"name"`
	TargetURL string   `yaml:"target_url"`
	Keywords  []string `yaml:"keywords"`
	Limits    Limits   `yaml:"limits"`
}

// Limits override the configured daily quotas. Zero takes the default.
type Limits struct {
	DailySendLimit     int `yaml:"daily_send_limit"`
	DailyProspectLimit int `yaml:"daily_prospect_limit"`
	DailyEmailLimit    int `yaml:"daily_email_limit"`
}

// Template is a message for a brand. Active defaults to true.
type Template struct {
	ID        string `yaml:"id"`
	Brand     string `yaml:"brand"`
	Name      string `yaml:"name"`
	Category  string `yaml:"category"`
	Sequence  int    `yaml:"sequence"`
	DelayDays int    `yaml:"delay_days"`
	Subject   string `yaml:"subject"`
	Body      string `yaml:"body"`
	Active    *bool  `yaml:"active"`
}

// LoadFile reads and validates a plan file.
func LoadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "plan: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Load(f)
}

// Load decodes and validates a plan. Unknown fields are rejected.
func Load(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "plan: decode")
	}
	for i := range p.Brands {
		p.Brands[i].SMTP.Password = os.ExpandEnv(p.Brands[i].SMTP.Password)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks ids, references and template categories.
func (p *Plan) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	brands := make(map[string]bool)
	for i, b := range p.Brands {
		switch {
		case b.ID == "":
			add("brands[%d]: id is required", i)
		case brands[b.ID]:
			add("brands[%d]: duplicate id %q", i, b.ID)
		}
		brands[b.ID] = true
		if b.FromEmail == "" || !strings.Contains(b.FromEmail, "@") {
			add("brand %q: from_email is required", b.ID)
		}
		if b.SMTP.Host == "" {
			add("brand %q: smtp.host is required", b.ID)
		}
	}

	seen := make(map[string]bool)
	for i, c := range p.Campaigns {
		switch {
		case c.ID == "":
			add("campaigns[%d]: id is required", i)
		case seen[c.ID]:
			add("campaigns[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
		if !brands[c.Brand] {
			add("campaign %q: unknown brand %q", c.ID, c.Brand)
		}
	}

	seen = make(map[string]bool)
	for i, t := range p.Templates {
		switch {
		case t.ID == "":
			add("templates[%d]: id is required", i)
		case seen[t.ID]:
			add("templates[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if !brands[t.Brand] {
			add("template %q: unknown brand %q", t.ID, t.Brand)
		}
		if !validCategory(t.Category) {
			add("template %q: category must be main or followup_<n>, got %q", t.ID, t.Category)
		}
		if t.DelayDays < 0 {
			add("template %q: delay_days must be >= 0", t.ID)
		}
		if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Body) == "" {
			add("template %q: subject and body are required", t.ID)
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("plan: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validCategory(c string) bool {
	if c == model.CategoryMain {
		return true
	}
	_, ok := model.FollowUpNumber(c)
	return ok
}

// UnknownVariables lists, per template id, placeholders the renderer will
// leave untouched.
func (p *Plan) UnknownVariables() map[string][]string {
	out := make(map[string][]string)
	for _, t := range p.Templates {
		var unknown []string
		for _, v := range outreach.Variables(t.Subject + "\n" + t.Body) {
			if !slices.Contains(outreach.KnownVariables, v) && !slices.Contains(unknown, v) {
				unknown = append(unknown, v)
			}
		}
		if len(unknown) > 0 {
			out[t.ID] = unknown
		}
	}
	return out
}

// Saver is the store surface Apply writes through.
type Saver interface {
	SaveBrand(ctx context.Context, b *model.Brand) error
	SaveCampaign(ctx context.Context, c *model.Campaign) error
	SaveTemplate(ctx context.Context, t *model.Template) error
}

// Summary counts saved records.
type Summary struct {
	Brands    int `json:"brands"`
	Campaigns int `json:"campaigns"`
	Templates int `json:"templates"`
}

// Apply upserts every record by id, brands first. Campaign limits left at
// zero take the values in defaults.
func (p *Plan) Apply(ctx context.Context, s Saver, defaults model.CampaignLimits) (Summary, error) {
	var sum Summary
	for _, b := range p.BrandModels() {
		if err := s.SaveBrand(ctx, &b); err != nil {
			return sum, eris.Wrapf(err, "plan: save brand %s", b.ID)
		}
		sum.Brands++
	}
	for _, c := range p.CampaignModels(defaults) {
		if err := s.SaveCampaign(ctx, &c); err != nil {
			return sum, eris.Wrapf(err, "plan: save campaign %s", c.ID)
		}
		sum.Campaigns++
	}
	for _, t := range p.TemplateModels() {
		if err := s.SaveTemplate(ctx, &t); err != nil {
			return sum, eris.Wrapf(err, "plan: save template %s", t.ID)
		}
		sum.Templates++
	}

	for id, vars := range p.UnknownVariables() {
		zap.L().Warn("plan: template has unknown placeholders",
			zap.String("template", id), zap.Strings("variables", vars))
	}
	return sum, nil
}

// BrandModels converts the plan's brands.
func (p *Plan) BrandModels() []model.Brand {
	out := make([]model.Brand, 0, len(p.Brands))
	for _, b := range p.Brands {
		out = append(out, model.Brand{
			ID: b.ID, Name: b.Name, FromName: b.FromName, FromEmail: b.FromEmail, SMTP: b.SMTP,
		})
	}
	return out
}

// CampaignModels converts the plan's campaigns.
func (p *Plan) CampaignModels(defaults model.CampaignLimits) []model.Campaign {
	out := make([]model.Campaign, 0, len(p.Campaigns))
	for _, c := range p.Campaigns {
		out = append(out, model.Campaign{
			ID: c.ID, BrandID: c.Brand, Name: c.Name, TargetURL: c.TargetURL, Keywords: c.Keywords,
			Limits: model.CampaignLimits{
				DailySendLimit:     orDefault(c.Limits.DailySendLimit, defaults.DailySendLimit),
				DailyProspectLimit: orDefault(c.Limits.DailyProspectLimit, defaults.DailyProspectLimit),
				DailyEmailLimit:    orDefault(c.Limits.DailyEmailLimit, defaults.DailyEmailLimit),
			},
		})
	}
	return out
}

// TemplateModels converts the plan's templates.
func (p *Plan) TemplateModels() []model.Template {
	out := make([]model.Template, 0, len(p.Templates))
	for _, t := range p.Templates {
		active := t.Active == nil || *t.Active
		seq := t.Sequence
		if n, ok := model.FollowUpNumber(t.Category); ok && seq == 0 {
			seq = n
		}
		out = append(out, model.Template{
			ID: t.ID, BrandID: t.Brand, Name: t.Name, Category: t.Category, Sequence: seq,
			DelayDays: t.DelayDays, Subject: t.Subject, Body: t.Body, Active: active,
		})
	}
	return out
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
