// Package outreach renders templated messages, queues them for READY leads
// and drains the queue through a Mailer under the daily send cap.
package outreach

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
	blockHTMLRe   = regexp.MustCompile(`(?i)<(p|div|ul|ol|table|tr|h[1-6]|blockquote)[\s>]`)
)

// KnownVariables are the placeholder names a template may use.
var KnownVariables = []string{
	"name", "company", "company_short", "domain",
	"city", "country", "email", "campaign", "brand",
}

// Context is the data a template is rendered against.
type Context struct {
	Prospect *model.Prospect
	Email    *model.Email
	Campaign *model.Campaign
	Brand    *model.Brand
}

// Rendered is a template after substitution.
type Rendered struct {
	Subject string
	Body    string
}

// Renderer substitutes {{variable}} placeholders. Variable names are case
// insensitive. Unknown placeholders are left as written.
type Renderer struct {
	lang language.Tag
}

// NewRenderer creates a Renderer that title-cases in English.
func NewRenderer() *Renderer {
	return &Renderer{lang: language.English}
}

// titleCase builds a fresh Caser per call; Casers carry state.
func (r *Renderer) titleCase(s string) string {
	return cases.Title(r.lang, cases.NoLower).String(s)
}

// Render fills subject and body of t. The body is HTML: plain-text newlines
// become <br> unless it already contains block-level markup.
func (r *Renderer) Render(t *model.Template, c Context) Rendered {
	vars := r.variables(c, false)
	htmlVars := r.variables(c, true)

	body := substitute(t.Body, htmlVars)
	if !blockHTMLRe.MatchString(body) {
		body = strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "<br>\n")
	}
	return Rendered{Subject: substitute(t.Subject, vars), Body: body}
}

// Variables lists the distinct placeholder names in text, lowercased, in order
// of first appearance.
func Variables(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func substitute(text string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.ToLower(placeholderRe.FindStringSubmatch(m)[1])
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// variables builds the substitution table. Known variables with no data
// render empty. When forHTML is set every value is HTML-escaped and the
// campaign links to its target URL.
func (r *Renderer) variables(c Context, forHTML bool) map[string]string {
	vars := make(map[string]string, len(KnownVariables))
	for _, k := range KnownVariables {
		vars[k] = ""
	}

	if p := c.Prospect; p != nil {
		domain := p.Domain
		if domain == "" {
			domain = exclusion.NormalizeDomain(p.URL)
		}
		company := p.Name
		if company == "" {
			company = domain
		}
		vars["name"] = company
		vars["company"] = company
		vars["domain"] = domain
		vars["company_short"] = r.titleCase(firstLabel(domain))
		vars["city"] = p.City
		vars["country"] = p.Country
	}
	if c.Email != nil {
		vars["email"] = c.Email.Address
	}
	if c.Brand != nil {
		vars["brand"] = c.Brand.Name
	}
	if cp := c.Campaign; cp != nil {
		vars["campaign"] = r.titleCase(strings.NewReplacer("-", " ", "_", " ").Replace(cp.Name))
	}
	if !forHTML {
		return vars
	}

	for k, v := range vars {
		vars[k] = html.EscapeString(v)
	}
	if cp := c.Campaign; cp != nil && cp.TargetURL != "" {
		vars["campaign"] = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(cp.TargetURL), vars["campaign"])
	}
	return vars
}

func firstLabel(domain string) string {
	if i := strings.IndexByte(domain, '.'); i > 0 {
		return domain[:i]
	}
	return domain
}
