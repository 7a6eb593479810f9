// Package pipeline runs discovery candidates through exclusion, dedupe,
// verification and email extraction until their leads are READY.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/lead"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/scorer"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Candidate is an organization proposed by discovery.
type Candidate struct {
	Domain      string `json:"domain,omitempty"`
	URL         string `json:"url,omitempty"`
	Name        string `json:"name,omitempty"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	SourceQuery string `json:"source_query,omitempty"`
}

// Verdict is a relevance decision for a website.
type Verdict struct {
	Verified  bool
	Reasoning string
}

// Verifier decides whether a website fits the campaign.
type Verifier interface {
	Verify(ctx context.Context, url string) (Verdict, error)
}

// Found is an address seen on a website.
type Found struct {
	Email      string
	SourcePage string
}

// Extractor collects contact addresses from a website.
type Extractor interface {
	Extract(ctx context.Context, url string) ([]Found, error)
}

// Outcome is the terminal decision for one candidate.
type Outcome string

const (
	OutcomeInvalid       Outcome = "invalid"
	OutcomeDirectory     Outcome = "directory"
	OutcomeExcluded      Outcome = "excluded"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeProspectQuota Outcome = "prospect_quota"
	OutcomeVerifyFailed  Outcome = "verify_failed"
	OutcomeNotRelevant   Outcome = "not_relevant"
	OutcomeExtractFailed Outcome = "extract_failed"
	OutcomeEmailQuota    Outcome = "email_quota"
	OutcomeNoEmail       Outcome = "no_email"
	OutcomeReady         Outcome = "ready"
)

// Result reports what happened to one candidate.
type Result struct {
	Candidate  Candidate `json:"candidate"`
	Domain     string    `json:"domain,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	ProspectID string    `json:"prospect_id,omitempty"`
	LeadID     string    `json:"lead_id,omitempty"`
	Emails     int       `json:"emails"`
	Detail     string    `json:"detail,omitempty"`
}

// Summary counts outcomes of a batch.
type Summary map[Outcome]int

// Store is the persistence intake needs.
type Store interface {
	GetProspectByDomain(ctx context.Context, domain string) (*model.Prospect, error)
	GetOrCreateProspect(ctx context.Context, p model.Prospect) (*model.Prospect, bool, error)
	SetProspectVerification(ctx context.Context, id string, verified bool, reason string) error
	MarkProspectProcessed(ctx context.Context, id string) error
	AddEmail(ctx context.Context, e model.Email) (bool, error)
}

// Guard checks the do-not-contact list.
type Guard interface {
	IsExcluded(ctx context.Context, domainOrURL string) (bool, error)
	IsEmailExcluded(ctx context.Context, email string) (bool, error)
}

// QuotaGate consumes per-campaign daily quota.
type QuotaGate interface {
	CheckAndReserve(ctx context.Context, campaignID string, kind model.CounterKind) (model.QuotaCheck, error)
	Release(ctx context.Context, campaignID string, kind model.CounterKind) error
}

// Intake processes candidates for a campaign.
type Intake struct {
	store     Store
	guard     Guard
	leads     *lead.Machine
	quota     QuotaGate
	scorer    *scorer.Scorer
	verifier  Verifier
	extractor Extractor
	metrics   *metrics.Metrics

	limiter        *rate.Limiter
	concurrency    int
	verifyTimeout  time.Duration
	extractTimeout time.Duration
	blocked        map[string]bool
	log            *zap.Logger
}

// Deps bundles the collaborators of an Intake.
type Deps struct {
	Store     Store
	Guard     Guard
	Leads     *lead.Machine
	Quota     QuotaGate
	Scorer    *scorer.Scorer
	Verifier  Verifier
	Extractor Extractor
	Metrics   *metrics.Metrics
}

// New creates an Intake.
func New(d Deps, cfg config.PipelineConfig) *Intake {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	blockedList := cfg.BlockedDomains
	if len(blockedList) == 0 {
		blockedList = config.DefaultBlockedDomains
	}
	blocked := make(map[string]bool, len(blockedList))
	for _, b := range blockedList {
		if n := exclusion.NormalizeDomain(b); n != "" {
			blocked[n] = true
		}
	}

	return &Intake{
		store:          d.Store,
		guard:          d.Guard,
		leads:          d.Leads,
		quota:          d.Quota,
		scorer:         d.Scorer,
		verifier:       d.Verifier,
		extractor:      d.Extractor,
		metrics:        d.Metrics,
		limiter:        rate.NewLimiter(limit, concurrency),
		concurrency:    concurrency,
		verifyTimeout:  secondsOr(cfg.VerifyTimeoutSecs, 30),
		extractTimeout: secondsOr(cfg.ExtractTimeoutSecs, 45),
		blocked:        blocked,
		log:            zap.L().With(zap.String("component", "pipeline")),
	}
}

func secondsOr(secs, def int) time.Duration {
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs) * time.Second
}

// RunBatch processes candidates concurrently. Results keep input order. A
// store error stops the batch; policy outcomes do not.
func (in *Intake) RunBatch(ctx context.Context, campaignID string, candidates []Candidate) ([]Result, Summary, error) {
	results := make([]Result, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)

	for i, c := range candidates {
		g.Go(func() error {
			r, err := in.Process(gCtx, campaignID, c)
			if err != nil {
				return eris.Wrapf(err, "pipeline: %s", candidateLabel(c))
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()

	sum := make(Summary)
	for _, r := range results {
		if r.Outcome != "" {
			sum[r.Outcome]++
		}
	}
	return results, sum, err
}

// Process runs one candidate to its outcome. Errors are reserved for store
// failures and missing campaigns; everything else is an Outcome.
func (in *Intake) Process(ctx context.Context, campaignID string, c Candidate) (Result, error) {
	res, err := in.process(ctx, campaignID, c)
	if err == nil {
		in.metrics.RecordIntake(string(res.Outcome))
		in.log.Info("candidate processed",
			zap.String("domain", res.Domain),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("emails", res.Emails),
			zap.String("detail", res.Detail),
		)
	}
	return res, err
}

func (in *Intake) process(ctx context.Context, campaignID string, c Candidate) (Result, error) {
	res, err := in.run(ctx, campaignID, c)
	if eris.Is(err, lead.ErrStaleStatus) {
		// Another worker is moving the same lead.
		res.Outcome = OutcomeDuplicate
		res.Detail = "processed concurrently"
		return res, nil
	}
	return res, err
}

func (in *Intake) run(ctx context.Context, campaignID string, c Candidate) (Result, error) {
	res := Result{Candidate: c}

	raw := c.URL
	if raw == "" {
		raw = c.Domain
	}
	domain := exclusion.NormalizeDomain(raw)
	if domain == "" || !strings.Contains(domain, ".") {
		res.Outcome = OutcomeInvalid
		return res, nil
	}
	res.Domain = domain
	siteURL := c.URL
	if siteURL == "" {
		siteURL = "https://" + domain
	}

	if in.isDirectory(domain) {
		res.Outcome = OutcomeDirectory
		return res, nil
	}

	excluded, err := in.guard.IsExcluded(ctx, domain)
	if err != nil {
		return res, err
	}
	if excluded {
		res.Outcome = OutcomeExcluded
		return res, nil
	}

	prospect, outcome, err := in.prospect(ctx, campaignID, domain, siteURL, c)
	if err != nil || outcome != "" {
		res.Outcome = outcome
		return res, err
	}
	res.ProspectID = prospect.ID

	l, created, err := in.leads.Create(ctx, campaignID, prospect.ID, c.SourceType, c.SourceQuery)
	if err != nil {
		return res, err
	}
	res.LeadID = l.ID
	if !created && (l.Status != model.LeadNew && l.Status != model.LeadVerified) {
		res.Outcome = OutcomeDuplicate
		res.Detail = string(l.Status)
		return res, nil
	}

	if l.Status == model.LeadNew {
		verdict, err := in.verify(ctx, siteURL)
		if err != nil {
			res.Outcome = OutcomeVerifyFailed
			res.Detail = err.Error()
			return res, nil
		}
		if err := in.store.SetProspectVerification(ctx, prospect.ID, verdict.Verified, verdict.Reasoning); err != nil {
			return res, err
		}
		if !verdict.Verified {
			if _, err := in.leads.Transition(ctx, l.ID, model.LeadSkipped); err != nil {
				return res, err
			}
			if err := in.store.MarkProspectProcessed(ctx, prospect.ID); err != nil {
				return res, err
			}
			res.Outcome = OutcomeNotRelevant
			res.Detail = verdict.Reasoning
			return res, nil
		}
		if _, err := in.leads.Transition(ctx, l.ID, model.LeadVerified); err != nil {
			return res, err
		}
	}

	return in.collectEmails(ctx, campaignID, prospect, l.ID, siteURL, res)
}

// prospect returns the stored prospect for domain, creating it when the
// campaign's prospect quota allows.
func (in *Intake) prospect(ctx context.Context, campaignID, domain, siteURL string, c Candidate) (*model.Prospect, Outcome, error) {
	existing, err := in.store.GetProspectByDomain(ctx, domain)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return nil, "", err
	}
	if existing != nil {
		return existing, "", nil
	}

	check, err := in.quota.CheckAndReserve(ctx, campaignID, model.CounterProspectsAdded)
	if err != nil {
		return nil, "", err
	}
	if !check.Allowed {
		return nil, OutcomeProspectQuota, nil
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = domain
	}
	p, created, err := in.store.GetOrCreateProspect(ctx, model.Prospect{
		Domain:      domain,
		Name:        name,
		URL:         siteURL,
		City:        c.City,
		Country:     c.Country,
		SourceType:  c.SourceType,
		SourceQuery: c.SourceQuery,
	})
	if err != nil || created {
		return p, "", err
	}
	// Another worker created the prospect after our lookup.
	if err := in.quota.Release(ctx, campaignID, model.CounterProspectsAdded); err != nil {
		return nil, "", err
	}
	return p, "", nil
}

func (in *Intake) collectEmails(ctx context.Context, campaignID string, p *model.Prospect, leadID, siteURL string, res Result) (Result, error) {
	found, err := in.extract(ctx, siteURL)
	if err != nil {
		res.Outcome = OutcomeExtractFailed
		res.Detail = err.Error()
		return res, nil
	}

	quotaHit := false
	seen := make(map[string]bool, len(found))
	for _, f := range found {
		addr := exclusion.NormalizeEmail(f.Email)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true

		score := in.scorer.Score(addr, siteURL)
		if !in.scorer.Accept(score) {
			continue
		}
		excluded, err := in.guard.IsEmailExcluded(ctx, addr)
		if err != nil {
			return res, err
		}
		if excluded {
			continue
		}

		check, err := in.quota.CheckAndReserve(ctx, campaignID, model.CounterEmailsFound)
		if err != nil {
			return res, err
		}
		if !check.Allowed {
			quotaHit = true
			break
		}

		e := model.Email{ProspectID: p.ID, Address: addr, SourcePage: f.SourcePage}
		scorer.Apply(&e, score)
		if _, err := in.store.AddEmail(ctx, e); err != nil {
			return res, err
		}
		res.Emails++
	}

	if res.Emails == 0 {
		if quotaHit {
			// Left unprocessed so a later run can retry under a fresh quota.
			res.Outcome = OutcomeEmailQuota
			return res, nil
		}
		if err := in.store.MarkProspectProcessed(ctx, p.ID); err != nil {
			return res, err
		}
		res.Outcome = OutcomeNoEmail
		return res, nil
	}

	if _, err := in.leads.Advance(ctx, leadID, model.LeadReady); err != nil {
		return res, err
	}
	if err := in.store.MarkProspectProcessed(ctx, p.ID); err != nil {
		return res, err
	}
	res.Outcome = OutcomeReady
	if quotaHit {
		res.Detail = "email quota reached"
	}
	return res, nil
}

func (in *Intake) verify(ctx context.Context, url string) (Verdict, error) {
	if err := in.limiter.Wait(ctx); err != nil {
		return Verdict{}, err
	}
	vctx, cancel := context.WithTimeout(ctx, in.verifyTimeout)
	defer cancel()
	return in.verifier.Verify(vctx, url)
}

func (in *Intake) extract(ctx context.Context, url string) ([]Found, error) {
	if err := in.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ectx, cancel := context.WithTimeout(ctx, in.extractTimeout)
	defer cancel()
	return in.extractor.Extract(ectx, url)
}

// isDirectory reports whether domain or a parent is a listing site.
func (in *Intake) isDirectory(domain string) bool {
	for d := domain; d != ""; {
		if in.blocked[d] {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}

func candidateLabel(c Candidate) string {
	if c.URL != "" {
		return c.URL
	}
	return c.Domain
}
