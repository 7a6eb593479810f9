// Package scorer rates contact addresses found on a prospect's website.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
)

// Confidence penalties.
const (
	MaxConfidence   = 100
	NoMatchPenalty  = 30
	GenericPenalty  = 20
	DefaultFloor    = 50
	minPrefixLength = 1
	maxPrefixLength = 64
)

// DefaultScoringConfig returns a config.ScoringConfig with the stock floor
// and generic mailbox list.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Floor:           DefaultFloor,
		GenericPrefixes: append([]string(nil), config.DefaultGenericPrefixes...),
	}
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	if c.Floor < 0 || c.Floor > MaxConfidence {
		errs = append(errs, fmt.Sprintf("floor must be between 0 and %d", MaxConfidence))
	}
	for _, p := range c.GenericPrefixes {
		p = strings.TrimSpace(p)
		if len(p) < minPrefixLength || len(p) > maxPrefixLength {
			errs = append(errs, fmt.Sprintf("generic prefix %q has invalid length", p))
		}
		if strings.Contains(p, "@") {
			errs = append(errs, fmt.Sprintf("generic prefix %q must not contain @", p))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
