package scorer

import (
	"sort"
	"strings"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/model"
)

// Result is the score of one address.
type Result struct {
	IsDomainMatch bool `json:"is_domain_match"`
	IsGeneric     bool `json:"is_generic"`
	Confidence    int  `json:"confidence"`
}

// Scorer rates addresses against the prospect they were found for.
type Scorer struct {
	floor   int
	generic map[string]bool
}

// New creates a Scorer. Zero values fall back to the defaults.
func New(cfg config.ScoringConfig) *Scorer {
	if len(cfg.GenericPrefixes) == 0 {
		cfg.GenericPrefixes = config.DefaultGenericPrefixes
	}
	generic := make(map[string]bool, len(cfg.GenericPrefixes))
	for _, p := range cfg.GenericPrefixes {
		generic[strings.ToLower(strings.TrimSpace(p))] = true
	}
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultFloor
	}
	return &Scorer{floor: cfg.Floor, generic: generic}
}

// Floor returns the minimum accepted confidence.
func (s *Scorer) Floor() int { return s.floor }

// Score rates email for the prospect at prospectURL. A match means the
// address domain equals the site domain, or one is a subdomain of the other.
func (s *Scorer) Score(email, prospectURL string) Result {
	addr := exclusion.NormalizeEmail(email)
	local, _, _ := strings.Cut(addr, "@")

	r := Result{
		IsDomainMatch: domainsMatch(exclusion.EmailDomain(addr), exclusion.NormalizeDomain(prospectURL)),
		IsGeneric:     s.generic[local],
		Confidence:    MaxConfidence,
	}
	if !r.IsDomainMatch {
		r.Confidence -= NoMatchPenalty
	}
	if r.IsGeneric {
		r.Confidence -= GenericPenalty
	}
	return r
}

// Accept reports whether the result clears the floor.
func (s *Scorer) Accept(r Result) bool {
	return r.Confidence >= s.floor
}

// Apply copies the result onto e.
func Apply(e *model.Email, r Result) {
	e.IsDomainMatch = r.IsDomainMatch
	e.IsGeneric = r.IsGeneric
	e.Confidence = r.Confidence
}

// Rank orders emails best first: domain matches, then personal addresses,
// then confidence. Ties keep their input order.
func Rank(emails []model.Email) {
	sort.SliceStable(emails, func(i, j int) bool {
		a, b := emails[i], emails[j]
		if a.IsDomainMatch != b.IsDomainMatch {
			return a.IsDomainMatch
		}
		if a.IsGeneric != b.IsGeneric {
			return !a.IsGeneric
		}
		return a.Confidence > b.Confidence
	})
}

// Best returns the highest ranked email, or nil.
func Best(emails []model.Email) *model.Email {
	if len(emails) == 0 {
		return nil
	}
	ranked := append([]model.Email(nil), emails...)
	Rank(ranked)
	return &ranked[0]
}

func domainsMatch(emailDomain, siteDomain string) bool {
	return emailDomain != "" && emailDomain == siteDomain
}
