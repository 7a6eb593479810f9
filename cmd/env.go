package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/exclusion"
	"github.com/sells-group/outreach-cli/internal/followup"
	"github.com/sells-group/outreach-cli/internal/lead"
	"github.com/sells-group/outreach-cli/internal/mailer"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/quota"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scorer"
	"github.com/sells-group/outreach-cli/internal/store"
)

// appEnv wires the services shared by the commands.
type appEnv struct {
	Store      store.Store
	Guard      *exclusion.Guard
	Quota      *quota.Tracker
	Renderer   *outreach.Renderer
	Queue      *outreach.Queue
	FollowUps  *followup.Scheduler
	Leads      *lead.Machine
	Dispatcher *outreach.Dispatcher
	Metrics    *metrics.Metrics
}

func (e *appEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates cfg for mode, opens and migrates the store and builds
// the services.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	e := &appEnv{
		Store:    st,
		Guard:    exclusion.NewGuard(st),
		Quota:    quota.NewTracker(st),
		Renderer: outreach.NewRenderer(),
		Metrics:  metrics.Default(),
	}
	e.Queue = outreach.NewQueue(st, e.Guard, e.Renderer)
	e.FollowUps = followup.New(st, cfg.FollowUp, e.Renderer)
	e.Leads = lead.NewMachine(st, lead.WithFollowUpCanceler(e.FollowUps))
	e.Dispatcher = outreach.NewDispatcher(st, mailer.NewSMTP(hostname()), e.Guard, e.Quota,
		dispatcherConfig(cfg.Dispatch),
		outreach.WithFollowUps(e.FollowUps),
		outreach.WithLeaser(st),
		outreach.WithMetrics(e.Metrics),
		outreach.WithRenderer(e.Renderer),
	)
	return e, nil
}

func dispatcherConfig(d config.DispatchConfig) outreach.DispatcherConfig {
	return outreach.DispatcherConfig{
		DailyCap:    d.DailyCap,
		MinDelay:    d.MinDelay(),
		MaxDelay:    d.MaxDelay(),
		SendTimeout: d.SendTimeout(),
		BatchSize:   d.BatchSize,
		Breaker:     resilience.BreakerConfigFrom(d.BreakerThreshold, d.BreakerResetSecs),
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts RFC 3339, a date, or a duration from now ("2h").
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid time %q: use RFC 3339, YYYY-MM-DD or a duration", s)
}
