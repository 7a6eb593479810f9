package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	FollowUp   FollowUpConfig   `yaml:"followup" mapstructure:"followup"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// DispatchConfig configures the outreach dispatcher.
type DispatchConfig struct {
	DailyCap         int `yaml:"daily_cap" mapstructure:"daily_cap"`
	MinDelaySecs     int `yaml:"min_delay_secs" mapstructure:"min_delay_secs"`
	MaxDelaySecs     int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	SendTimeoutSecs  int `yaml:"send_timeout_secs" mapstructure:"send_timeout_secs"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	IntervalSecs     int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// MinDelay returns the lower bound of the pause between sends.
func (d DispatchConfig) MinDelay() time.Duration {
	return time.Duration(d.MinDelaySecs) * time.Second
}

// MaxDelay returns the upper bound of the pause between sends.
func (d DispatchConfig) MaxDelay() time.Duration {
	return time.Duration(d.MaxDelaySecs) * time.Second
}

// SendTimeout bounds a single mailer call.
func (d DispatchConfig) SendTimeout() time.Duration {
	return time.Duration(d.SendTimeoutSecs) * time.Second
}

// ScoringConfig configures email confidence scoring.
type ScoringConfig struct {
	Floor           int      `yaml:"floor" mapstructure:"floor"`
	GenericPrefixes []string `yaml:"generic_prefixes" mapstructure:"generic_prefixes"`
}

// QuotaConfig holds the limits applied to campaigns that do not set their own.
type QuotaConfig struct {
	DailySendLimit     int `yaml:"daily_send_limit" mapstructure:"daily_send_limit"`
	DailyProspectLimit int `yaml:"daily_prospect_limit" mapstructure:"daily_prospect_limit"`
	DailyEmailLimit    int `yaml:"daily_email_limit" mapstructure:"daily_email_limit"`
}

// FollowUpConfig configures follow-up scheduling.
type FollowUpConfig struct {
	SweepWindowHours int   `yaml:"sweep_window_hours" mapstructure:"sweep_window_hours"`
	DefaultDelayDays []int `yaml:"default_delay_days" mapstructure:"default_delay_days"`
}

// PipelineConfig configures prospect intake.
type PipelineConfig struct {
	Concurrency        int      `yaml:"concurrency" mapstructure:"concurrency"`
	VerifyTimeoutSecs  int      `yaml:"verify_timeout_secs" mapstructure:"verify_timeout_secs"`
	ExtractTimeoutSecs int      `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	RequestsPerSecond  float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BlockedDomains     []string `yaml:"blocked_domains" mapstructure:"blocked_domains"`
}

// JinaConfig holds Jina AI reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// VerifyConfig selects the prospect verifier.
type VerifyConfig struct {
	Mode     string   `yaml:"mode" mapstructure:"mode"` // keyword | ai | none
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// MonitoringConfig configures webhook alerts from the serve process.
type MonitoringConfig struct {
	WebhookURL              string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs       int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailedDeltaThreshold    int    `yaml:"failed_delta_threshold" mapstructure:"failed_delta_threshold"`
	PendingBacklogThreshold int    `yaml:"pending_backlog_threshold" mapstructure:"pending_backlog_threshold"`
}

// DefaultGenericPrefixes are mailbox names treated as shared inboxes.
var DefaultGenericPrefixes = []string{
	"info", "contact", "hello", "mail", "admin", "support",
	"sales", "enquiry", "inquiry", "office", "team", "general",
}

// DefaultBlockedDomains are directories and aggregators that list agencies
// rather than being one.
var DefaultBlockedDomains = []string{
	"clutch.co", "goodfirms.co", "designrush.com", "sortlist.com", "upcity.com",
	"themanifest.com", "agencyspotter.com", "expertise.com", "yelp.com",
	"linkedin.com", "facebook.com", "instagram.com", "twitter.com", "x.com",
	"youtube.com", "wikipedia.org", "crunchbase.com", "glassdoor.com",
	"indeed.com", "upwork.com", "fiverr.com", "behance.net", "dribbble.com",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("dispatch.daily_cap", 50)
	v.SetDefault("dispatch.min_delay_secs", 30)
	v.SetDefault("dispatch.max_delay_secs", 60)
	v.SetDefault("dispatch.send_timeout_secs", 30)
	v.SetDefault("dispatch.batch_size", 100)
	v.SetDefault("dispatch.breaker_threshold", 3)
	v.SetDefault("dispatch.breaker_reset_secs", 300)
	v.SetDefault("dispatch.interval_secs", 600)
	v.SetDefault("scoring.floor", 50)
	v.SetDefault("scoring.generic_prefixes", DefaultGenericPrefixes)
	v.SetDefault("quota.daily_send_limit", 50)
	v.SetDefault("quota.daily_prospect_limit", 100)
	v.SetDefault("quota.daily_email_limit", 100)
	v.SetDefault("followup.sweep_window_hours", 24)
	v.SetDefault("followup.default_delay_days", []int{3, 7, 14, 21})
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.verify_timeout_secs", 30)
	v.SetDefault("pipeline.extract_timeout_secs", 45)
	v.SetDefault("pipeline.requests_per_second", 2.0)
	v.SetDefault("pipeline.blocked_domains", DefaultBlockedDomains)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("verify.mode", "keyword")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failed_delta_threshold", 5)
	v.SetDefault("monitoring.pending_backlog_threshold", 500)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given command mode:
// "dispatch", "ingest", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "store":
	case "dispatch":
		errs = append(errs, c.validateDispatch()...)
	case "ingest":
		errs = append(errs, c.validateIngest()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateDispatch()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDispatch() []string {
	var errs []string
	d := c.Dispatch
	if d.DailyCap < 0 {
		errs = append(errs, "dispatch.daily_cap must be >= 0")
	}
	if d.MinDelaySecs < 0 || d.MaxDelaySecs < d.MinDelaySecs {
		errs = append(errs, "dispatch delays must satisfy 0 <= min_delay_secs <= max_delay_secs")
	}
	if d.SendTimeoutSecs <= 0 {
		errs = append(errs, "dispatch.send_timeout_secs must be > 0")
	}
	return errs
}

func (c *Config) validateIngest() []string {
	var errs []string
	if c.Scoring.Floor < 0 || c.Scoring.Floor > 100 {
		errs = append(errs, "scoring.floor must be between 0 and 100")
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 50 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 50")
	}
	if c.Jina.Key == "" {
		errs = append(errs, "jina.key is required")
	}
	switch c.Verify.Mode {
	case "keyword", "none":
	case "ai":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when verify.mode is ai")
		}
	default:
		errs = append(errs, fmt.Sprintf("verify.mode must be keyword, ai or none, got %q", c.Verify.Mode))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
