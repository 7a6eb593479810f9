// Package extract collects contact email addresses from a prospect's website.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// DefaultPaths are the pages read for every site, homepage first.
var DefaultPaths = []string{"", "/contact", "/about"}

var emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// noiseDomains host addresses that appear on sites but never belong to them.
var noiseDomains = []string{
	"example.com", "example.org", "domain.com", "email.com", "test.com",
	"sentry.io", "sentry-next.wixpress.com", "wixpress.com", "godaddy.com",
	"schema.org", "w3.org",
}

var noisePrefixes = []string{"noreply", "no-reply", "donotreply", "do-not-reply", "mailer-daemon", "postmaster"}

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// Jina reads a site's homepage and contact pages through the Jina reader.
type Jina struct {
	reader jina.Client
	paths  []string
}

// New creates an extractor reading paths relative to the site root.
// A nil paths slice uses DefaultPaths.
func New(reader jina.Client, paths []string) *Jina {
	if paths == nil {
		paths = DefaultPaths
	}
	return &Jina{reader: reader, paths: paths}
}

// Extract returns unique addresses in the order they were first seen. A
// homepage read failure is an error; other pages are best effort.
func (e *Jina) Extract(ctx context.Context, siteURL string) ([]pipeline.Found, error) {
	base := strings.TrimRight(siteURL, "/")
	log := zap.L().With(zap.String("component", "extract"), zap.String("site", base))

	seen := make(map[string]bool)
	var out []pipeline.Found
	for i, p := range e.paths {
		pageURL := base + p
		page, err := e.reader.Read(ctx, pageURL)
		if err != nil {
			if i == 0 {
				return nil, eris.Wrap(err, "extract: read homepage")
			}
			if ctx.Err() != nil {
				return out, nil
			}
			log.Debug("extract: page skipped", zap.String("page", pageURL), zap.Error(err))
			continue
		}
		for _, addr := range FindEmails(page.Content) {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, pipeline.Found{Email: addr, SourcePage: pageURL})
		}
	}
	return out, nil
}

// FindEmails returns the plausible addresses in text, lowercased and
// de-duplicated.
func FindEmails(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range emailRe.FindAllString(text, -1) {
		addr := strings.ToLower(strings.Trim(m, ".-"))
		if seen[addr] || isNoise(addr) {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func isNoise(addr string) bool {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" {
		return true
	}
	for _, s := range assetSuffixes {
		if strings.HasSuffix(domain, s) {
			return true
		}
	}
	// Retina image names such as logo@2x.png.
	if strings.HasPrefix(domain, "2x.") || strings.HasPrefix(domain, "3x.") {
		return true
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	for _, d := range noiseDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	// Hex-only local parts are tracking ids.
	if len(local) >= 24 && strings.Trim(local, "0123456789abcdef") == "" {
		return true
	}
	return false
}
