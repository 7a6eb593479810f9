package outreach

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Message is one outbound email.
type Message struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTML      string
	SMTP      model.SMTPConfig
}

// SendResult is what the mail transport reports for an accepted message.
type SendResult struct {
	MessageID string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// QuotaReserver consumes per-campaign daily quota.
type QuotaReserver interface {
	CheckAndReserve(ctx context.Context, campaignID string, kind model.CounterKind) (model.QuotaCheck, error)
}

// FollowUpScheduler chains follow-ups after an initial message is sent.
type FollowUpScheduler interface {
	ScheduleFollowUps(ctx context.Context, initialLogID, leadID, emailID, brandID string) (int, error)
}

// Leaser grants a named cross-process lease.
type Leaser interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

const leaseName = "dispatcher"

// DispatcherConfig controls pacing of a drain.
type DispatcherConfig struct {
	DailyCap    int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	SendTimeout time.Duration
	BatchSize   int
	Breaker     resilience.BreakerConfig
	LeaseTTL    time.Duration
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Processed      int  `json:"processed"`
	Sent           int  `json:"sent"`
	Failed         int  `json:"failed"`
	Skipped        int  `json:"skipped"`
	LimitReached   bool `json:"limit_reached"`
	AlreadyRunning bool `json:"already_running"`
}

// Dispatcher sends due queue items one at a time under the global daily cap.
type Dispatcher struct {
	store     Store
	mailer    Mailer
	guard     EmailGuard
	quota     QuotaReserver
	followUps FollowUpScheduler
	leaser    Leaser
	renderer  *Renderer
	breakers  *resilience.Breakers
	metrics   *metrics.Metrics
	cfg       DispatcherConfig
	holder    string
	log       *zap.Logger

	mu sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	delay func(min, max time.Duration) time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFollowUps schedules follow-ups after each initial send.
func WithFollowUps(f FollowUpScheduler) Option {
	return func(d *Dispatcher) { d.followUps = f }
}

// WithLeaser makes drains exclusive across processes sharing a store.
func WithLeaser(l Leaser) Option {
	return func(d *Dispatcher) { d.leaser = l }
}

// WithMetrics records send outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRenderer overrides the default renderer.
func WithRenderer(r *Renderer) Option {
	return func(d *Dispatcher) { d.renderer = r }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(s Store, m Mailer, guard EmailGuard, q QuotaReserver, cfg DispatcherConfig, opts ...Option) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	d := &Dispatcher{
		store:    s,
		mailer:   m,
		guard:    guard,
		quota:    q,
		renderer: NewRenderer(),
		breakers: resilience.NewBreakers(withSMTPCounts(cfg.Breaker)),
		cfg:      cfg,
		holder:   uuid.New().String(),
		log:      zap.L().With(zap.String("component", "outreach.dispatcher")),
		now:      time.Now,
		sleep:    sleepCtx,
		delay:    randomDelay,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// withSMTPCounts keeps permanent recipient rejections from opening a relay's
// breaker.
func withSMTPCounts(cfg resilience.BreakerConfig) resilience.BreakerConfig {
	if cfg.Counts == nil {
		cfg.Counts = resilience.IsTransient
	}
	return cfg
}

// Breakers exposes the per-relay breakers for status output.
func (d *Dispatcher) Breakers() *resilience.Breakers { return d.breakers }

// Drain sends due items until the queue is empty, the cap is reached or ctx
// ends. A drain already in progress makes this one return immediately.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	if !d.mu.TryLock() {
		return DrainResult{AlreadyRunning: true}, nil
	}
	defer d.mu.Unlock()

	if d.leaser != nil {
		ok, err := d.leaser.AcquireLease(ctx, leaseName, d.holder, d.cfg.LeaseTTL)
		if err != nil {
			return DrainResult{}, eris.Wrap(err, "outreach: acquire dispatcher lease")
		}
		if !ok {
			return DrainResult{AlreadyRunning: true}, nil
		}
		defer func() {
			if err := d.leaser.ReleaseLease(context.WithoutCancel(ctx), leaseName, d.holder); err != nil {
				d.log.Warn("release dispatcher lease", zap.Error(err))
			}
		}()
	}

	return d.drain(ctx)
}

func (d *Dispatcher) drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	sentToday, err := d.sentToday(ctx)
	if err != nil {
		return res, err
	}
	remaining := d.cfg.DailyCap - sentToday
	if remaining <= 0 {
		res.LimitReached = true
		d.log.Info("daily cap reached", zap.Int("sent_today", sentToday), zap.Int("cap", d.cfg.DailyCap))
		return res, nil
	}

	items, err := d.store.ListDueItems(ctx, d.now(), min(remaining, d.cfg.BatchSize))
	if err != nil {
		return res, eris.Wrap(err, "outreach: list due items")
	}
	d.log.Info("drain started", zap.Int("due", len(items)), zap.Int("remaining_cap", remaining))

	for i := range items {
		if ctx.Err() != nil {
			break
		}

		sentToday, err = d.sentToday(ctx)
		if err != nil {
			return res, err
		}
		if sentToday >= d.cfg.DailyCap {
			res.LimitReached = true
			break
		}

		// Stop signals are observed between items, never mid-send.
		attempted := d.process(context.WithoutCancel(ctx), &items[i], &res)
		res.Processed++

		if attempted && i < len(items)-1 {
			if err := d.sleep(ctx, d.delay(d.cfg.MinDelay, d.cfg.MaxDelay)); err != nil {
				break
			}
		}
	}

	if !res.LimitReached && d.cfg.DailyCap > 0 {
		sentToday, err = d.sentToday(context.WithoutCancel(ctx))
		if err == nil && sentToday >= d.cfg.DailyCap {
			res.LimitReached = true
		}
	}

	d.log.Info("drain finished",
		zap.Int("processed", res.Processed),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Bool("limit_reached", res.LimitReached),
	)
	return res, nil
}

// process handles one item and reports whether the mailer was called.
func (d *Dispatcher) process(ctx context.Context, item *model.QueueItem, res *DrainResult) bool {
	log := d.log.With(zap.String("item_id", item.ID), zap.String("to", item.ToAddress))

	skip := func(reason string, fail bool) bool {
		res.Skipped++
		d.metrics.RecordSend(metrics.SendSkipped, 0)
		log.Info("item skipped", zap.String("reason", reason))
		if fail {
			if err := d.store.MarkFailed(ctx, item.ID, reason); err != nil {
				log.Error("mark skipped item failed", zap.Error(err))
			}
		}
		return false
	}

	excluded, err := d.guard.IsEmailExcluded(ctx, item.ToAddress)
	if err != nil {
		log.Error("exclusion check failed", zap.Error(err))
		return skip("exclusion check failed", false)
	}
	if excluded {
		return skip("recipient excluded", true)
	}

	rc, tmpl, lead, err := d.load(ctx, item)
	if err != nil {
		return d.fail(ctx, item, res, log, err)
	}
	if !sendable(lead.Status, item.Category) {
		return skip("lead is "+string(lead.Status), true)
	}

	claimed, err := d.store.MarkSending(ctx, item.ID)
	if err != nil {
		log.Error("mark sending failed", zap.Error(err))
		return skip("mark sending failed", false)
	}
	if !claimed {
		return skip("claimed elsewhere", false)
	}

	// Quota is reserved only for items this drain owns. A denied reserve
	// puts the item back to pending for a later day.
	check, err := d.quota.CheckAndReserve(ctx, item.CampaignID, model.CounterOutreachSent)
	if err != nil || !check.Allowed {
		if rerr := d.store.ReleaseSending(ctx, item.ID); rerr != nil {
			log.Error("release claimed item", zap.Error(rerr))
		}
		if err != nil {
			log.Error("quota reserve failed", zap.Error(err))
			return skip("quota reserve failed", false)
		}
		return skip("campaign send quota exhausted", false)
	}

	out := d.renderer.Render(tmpl, rc)
	if err := d.store.UpdateItemContent(ctx, item.ID, out.Subject, out.Body); err != nil {
		return d.fail(ctx, item, res, log, err)
	}

	msg := Message{
		FromName:  rc.Brand.FromName,
		FromEmail: rc.Brand.FromEmail,
		To:        item.ToAddress,
		Subject:   out.Subject,
		HTML:      out.Body,
		SMTP:      rc.Brand.SMTP,
	}

	start := d.now()
	sent, err := d.send(ctx, msg)
	took := d.now().Sub(start)
	if err != nil {
		d.metrics.RecordSend(metrics.SendFailed, took)
		d.fail(ctx, item, res, log, err)
		return true
	}

	completion := store.SendCompletion{ItemID: item.ID, MessageID: sent.MessageID, SentAt: d.now()}
	if item.Category == model.CategoryMain {
		completion.AdvanceFrom = []model.LeadStatus{model.LeadReady}
		completion.AdvanceTo = model.LeadOutreachSent
	}
	entry, err := d.store.CompleteSend(ctx, completion)
	if err != nil {
		// The message left; only bookkeeping failed.
		log.Error("record sent message", zap.String("message_id", sent.MessageID), zap.Error(err))
		res.Failed++
		return true
	}

	res.Sent++
	d.metrics.RecordSend(metrics.SendSent, took)
	log.Info("message sent", zap.String("message_id", sent.MessageID), zap.String("category", item.Category))

	if item.Category == model.CategoryMain && d.followUps != nil {
		n, err := d.followUps.ScheduleFollowUps(ctx, entry.ID, item.LeadID, item.EmailID, rc.Brand.ID)
		if err != nil {
			log.Error("schedule follow-ups", zap.Error(err))
		} else if n > 0 {
			log.Info("follow-ups scheduled", zap.Int("count", n))
		}
	}
	return true
}

func (d *Dispatcher) fail(ctx context.Context, item *model.QueueItem, res *DrainResult, log *zap.Logger, cause error) bool {
	res.Failed++
	log.Warn("send failed", zap.Error(cause))
	if err := d.store.MarkFailed(ctx, item.ID, cause.Error()); err != nil {
		log.Error("mark failed", zap.Error(err))
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, msg Message) (SendResult, error) {
	cb := d.breakers.Get("smtp:" + msg.SMTP.Host)
	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (SendResult, error) {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		return d.mailer.Send(sendCtx, msg)
	})
}

// load reads current data for a re-render of item.
func (d *Dispatcher) load(ctx context.Context, item *model.QueueItem) (Context, *model.Template, *model.Lead, error) {
	if item.LeadID == "" {
		return Context{}, nil, nil, eris.Errorf("outreach: item %s has no lead", item.ID)
	}
	lead, err := d.store.GetLead(ctx, item.LeadID)
	if err != nil {
		return Context{}, nil, nil, eris.Wrap(err, "outreach: load lead")
	}
	tmpl, err := d.store.GetTemplate(ctx, item.TemplateID)
	if err != nil {
		return Context{}, nil, nil, eris.Wrap(err, "outreach: load template")
	}
	rc, err := loadContext(ctx, d.store, lead, item.EmailID)
	if err != nil {
		return Context{}, nil, nil, err
	}
	return rc, tmpl, lead, nil
}

func (d *Dispatcher) sentToday(ctx context.Context) (int, error) {
	start, end := model.DayBounds(d.now())
	n, err := d.store.CountSentBetween(ctx, start, end)
	return n, eris.Wrap(err, "outreach: count sent today")
}

// Run drains every interval until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := d.Drain(ctx)
		if err != nil {
			d.log.Error("drain failed", zap.Error(err))
		} else if res.AlreadyRunning {
			d.log.Debug("drain already running")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
