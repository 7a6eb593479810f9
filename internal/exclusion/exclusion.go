// Package exclusion implements the permanent do-not-contact list.
package exclusion

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrInvalid is returned for values that cannot be excluded.
var ErrInvalid = eris.New("exclusion: invalid value")

// Store is the persistence the guard needs.
type Store interface {
	AddExclusion(ctx context.Context, ex model.Exclusion) (bool, error)
	AddExclusions(ctx context.Context, exs []model.Exclusion) (int, error)
	MatchDomainExclusion(ctx context.Context, values []string, domain string) (bool, error)
	HasEmailExclusion(ctx context.Context, email string) (bool, error)
	ListExclusions(ctx context.Context, typ model.ExclusionType) ([]model.Exclusion, error)
}

// Guard answers whether a domain or address may be contacted.
type Guard struct {
	store Store
	log   *zap.Logger
}

// NewGuard creates a Guard backed by the given store.
func NewGuard(s Store) *Guard {
	return &Guard{store: s, log: zap.L().With(zap.String("component", "exclusion"))}
}

// IsExcluded reports whether the domain (or URL) is on the list. It matches
// d, www.d and *.d, a wildcard on any parent of d, and any excluded address
// at d.
func (g *Guard) IsExcluded(ctx context.Context, domainOrURL string) (bool, error) {
	d := NormalizeDomain(domainOrURL)
	if d == "" {
		return false, nil
	}
	hit, err := g.store.MatchDomainExclusion(ctx, domainCandidates(d), d)
	if err != nil {
		return false, eris.Wrapf(err, "exclusion: check domain %s", d)
	}
	return hit, nil
}

// IsEmailExcluded reports whether the address itself or its domain is excluded.
func (g *Guard) IsEmailExcluded(ctx context.Context, email string) (bool, error) {
	e := NormalizeEmail(email)
	if e == "" {
		return false, nil
	}
	hit, err := g.store.HasEmailExclusion(ctx, e)
	if err != nil {
		return false, eris.Wrapf(err, "exclusion: check email %s", e)
	}
	if hit {
		return true, nil
	}
	if d := EmailDomain(e); d != "" {
		return g.IsExcluded(ctx, d)
	}
	return false, nil
}

// Exclude adds a value to the list. Duplicates are a no-op and keep the
// original reason.
func (g *Guard) Exclude(ctx context.Context, typ model.ExclusionType, value, reason string) (bool, error) {
	ex, err := normalizeExclusion(typ, value, reason)
	if err != nil {
		return false, err
	}
	added, err := g.store.AddExclusion(ctx, ex)
	if err != nil {
		return false, eris.Wrapf(err, "exclusion: add %s", ex.Value)
	}
	if added {
		g.log.Info("exclusion added",
			zap.String("type", string(ex.Type)),
			zap.String("value", ex.Value),
			zap.String("reason", reason),
		)
	}
	return added, nil
}

// ExcludeAll adds many values at once and returns how many were new.
func (g *Guard) ExcludeAll(ctx context.Context, typ model.ExclusionType, values []string, reason string) (int, error) {
	seen := make(map[string]bool, len(values))
	exs := make([]model.Exclusion, 0, len(values))
	for _, v := range values {
		ex, err := normalizeExclusion(typ, v, reason)
		if err != nil {
			g.log.Warn("exclusion: skipping value", zap.String("value", v), zap.Error(err))
			continue
		}
		if seen[ex.Value] {
			continue
		}
		seen[ex.Value] = true
		exs = append(exs, ex)
	}
	if len(exs) == 0 {
		return 0, nil
	}
	n, err := g.store.AddExclusions(ctx, exs)
	if err != nil {
		return 0, eris.Wrap(err, "exclusion: bulk add")
	}
	g.log.Info("exclusions imported", zap.Int("added", n), zap.Int("submitted", len(exs)))
	return n, nil
}

// List returns the entries of one type, or all entries when typ is empty.
func (g *Guard) List(ctx context.Context, typ model.ExclusionType) ([]model.Exclusion, error) {
	out, err := g.store.ListExclusions(ctx, typ)
	return out, eris.Wrap(err, "exclusion: list")
}

func normalizeExclusion(typ model.ExclusionType, value, reason string) (model.Exclusion, error) {
	if !typ.Valid() {
		return model.Exclusion{}, eris.Wrapf(ErrInvalid, "unknown type %q", typ)
	}
	var v string
	if typ == model.ExclusionEmail {
		v = NormalizeEmail(value)
		if !strings.Contains(v, "@") {
			return model.Exclusion{}, eris.Wrapf(ErrInvalid, "invalid email %q", value)
		}
	} else {
		v = normalizeDomainValue(value)
	}
	if v == "" {
		return model.Exclusion{}, eris.Wrapf(ErrInvalid, "empty %s value", typ)
	}
	return model.Exclusion{Type: typ, Value: v, Reason: strings.TrimSpace(reason)}, nil
}

// normalizeDomainValue keeps a leading "*." wildcard intact.
func normalizeDomainValue(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if rest, ok := strings.CutPrefix(v, "*."); ok {
		if d := NormalizeDomain(rest); d != "" {
			return "*." + d
		}
		return ""
	}
	return NormalizeDomain(v)
}

// NormalizeDomain lowercases the input, strips any scheme, path, port and
// a leading "www.".
func NormalizeDomain(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")
	return s
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the part after the last "@", normalized.
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return NormalizeDomain(email[i+1:])
}

// domainCandidates lists every stored domain value that would exclude d.
func domainCandidates(d string) []string {
	out := []string{d, "www." + d, "*." + d}
	labels := strings.Split(d, ".")
	for i := 1; i < len(labels)-1; i++ {
		out = append(out, "*."+strings.Join(labels[i:], "."))
	}
	return out
}
