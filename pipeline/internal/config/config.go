package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipewatch/pipewatch/pkg/types"
)

// Default values for the pipeline configuration.
const (
	DefaultHTTPPort       = 8090
	DefaultLogLevel       = "info"
	DefaultTimezone       = "UTC"
	DefaultDriver         = "sqlite3"
	DefaultDSN            = "pipeline.db"
	DefaultEventsPath     = "events.jsonl"
	DefaultCandleInterval = 5 * time.Minute
	DefaultFastSMA        = 5
	DefaultSlowSMA        = 20
	DefaultQuoteTimeout   = 10 * time.Second
)

// DefaultSchedules staggers the canonical jobs after the US close, weekdays.
var DefaultSchedules = map[string]string{
	types.JobCollector:       "0 17 * * 1-5",
	types.JobLoader:          "15 17 * * 1-5",
	types.JobAggregator:      "30 17 * * 1-5",
	types.JobSignalGenerator: "0 18 * * 1-5",
	types.JobBacktester:      "15 18 * * 1-5",
	types.JobDQChecker:       "30 18 * * 1-5",
	types.JobAlertDispatcher: "45 18 * * 1-5",
}

// Config holds the pipeline configuration parsed from the `pipeline:`
// section of the YAML file.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PipelineConfig holds all pipeline settings.
type PipelineConfig struct {
	HTTPPort int    `yaml:"http_port"`
	LogLevel string `yaml:"log_level"`

	// Timezone is an IANA zone name. "Today" is evaluated in this zone.
	Timezone string `yaml:"timezone"`

	Database DatabaseConfig `yaml:"database"`
	Events   EventsConfig   `yaml:"events"`

	Symbols     []string          `yaml:"symbols"`
	QuoteSource QuoteSourceConfig `yaml:"quote_source"`

	CandleInterval time.Duration `yaml:"candle_interval"`
	SMA            SMAConfig     `yaml:"sma"`

	// SignalWebhookEnv names the variable holding the alert-dispatcher target URL.
	SignalWebhookEnv string `yaml:"signal_webhook_env"`

	Jobs []JobConfig `yaml:"jobs"`
}

// DatabaseConfig selects the partition store backend.
type DatabaseConfig struct {
	// Driver is one of: sqlite3 | postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// DSNEnv, when set, overrides DSN with the value of that variable.
	DSNEnv string `yaml:"dsn_env"`
}

// ResolvedDSN returns the DSN, preferring DSNEnv when set.
func (d DatabaseConfig) ResolvedDSN() string {
	if d.DSNEnv != "" {
		if v := os.Getenv(d.DSNEnv); v != "" {
			return v
		}
	}
	return d.DSN
}

// EventsConfig controls where terminal JobEvents are written.
type EventsConfig struct {
	// Path is the JSON-lines file tailed by the monitor.
	Path  string           `yaml:"path"`
	Redis RedisEventConfig `yaml:"redis"`
}

// RedisEventConfig publishes each event on a pub/sub channel when Addr is set.
type RedisEventConfig struct {
	Addr        string `yaml:"addr"`
	Channel     string `yaml:"channel"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisEventConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// QuoteSourceConfig describes the HTTP endpoint the collector polls.
type QuoteSourceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Auth    AuthConfig    `yaml:"auth"`
}

// AuthConfig specifies how the collector authenticates to the quote source.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header carries the key in apikey mode. Defaults to "X-Api-Key".
	Header string `yaml:"header"`

	// KeyEnv names the variable holding the API key or bearer token.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the credential resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// SMAConfig holds the moving-average periods in trading days.
type SMAConfig struct {
	Fast int `yaml:"fast"`
	Slow int `yaml:"slow"`
}

// JobConfig attaches a cron schedule to a job. An empty schedule leaves the
// job trigger-only.
type JobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
}

// SignalWebhook returns the alert-dispatcher URL resolved from the environment.
func (p PipelineConfig) SignalWebhook() string {
	if p.SignalWebhookEnv == "" {
		return ""
	}
	return os.Getenv(p.SignalWebhookEnv)
}

// Location loads the configured time zone.
func (p PipelineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("pipeline config: parse yaml: %w", err)
	}
	fill(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			HTTPPort:       DefaultHTTPPort,
			LogLevel:       DefaultLogLevel,
			Timezone:       DefaultTimezone,
			Database:       DatabaseConfig{Driver: DefaultDriver, DSN: DefaultDSN},
			Events:         EventsConfig{Path: DefaultEventsPath},
			CandleInterval: DefaultCandleInterval,
			SMA:            SMAConfig{Fast: DefaultFastSMA, Slow: DefaultSlowSMA},
			QuoteSource:    QuoteSourceConfig{Timeout: DefaultQuoteTimeout},
		},
	}
}

func fill(cfg *Config) {
	p := &cfg.Pipeline
	if len(p.Jobs) == 0 {
		for _, name := range types.CanonicalJobs {
			p.Jobs = append(p.Jobs, JobConfig{Name: name, Schedule: DefaultSchedules[name]})
		}
	}
	if p.QuoteSource.Auth.Mode == "" {
		p.QuoteSource.Auth.Mode = "none"
	}
	if p.QuoteSource.Auth.Mode == "apikey" && p.QuoteSource.Auth.Header == "" {
		p.QuoteSource.Auth.Header = "X-Api-Key"
	}
}

func validate(cfg *Config) error {
	p := cfg.Pipeline
	if p.HTTPPort <= 0 || p.HTTPPort > 65535 {
		return fmt.Errorf("pipeline.http_port %d is out of range [1, 65535]", p.HTTPPort)
	}
	switch p.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("pipeline.log_level %q unknown: want debug|info|warn|error", p.LogLevel)
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("pipeline.timezone %q: %w", p.Timezone, err)
	}
	switch p.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver %q unknown: want sqlite3|postgres", p.Database.Driver)
	}
	if p.Database.ResolvedDSN() == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if p.Events.Path == "" {
		return fmt.Errorf("events.path is required")
	}
	if p.Events.Redis.Addr != "" && p.Events.Redis.Channel == "" {
		return fmt.Errorf("events.redis.channel is required when addr is set")
	}
	if p.CandleInterval <= 0 || p.CandleInterval > 24*time.Hour {
		return fmt.Errorf("pipeline.candle_interval %v must be in (0, 24h]", p.CandleInterval)
	}
	if p.SMA.Fast <= 0 || p.SMA.Slow <= p.SMA.Fast {
		return fmt.Errorf("sma: want 0 < fast < slow, got fast=%d slow=%d", p.SMA.Fast, p.SMA.Slow)
	}
	switch p.QuoteSource.Auth.Mode {
	case "none", "apikey", "bearer":
	default:
		return fmt.Errorf("quote_source.auth.mode %q unknown: want apikey|bearer|none", p.QuoteSource.Auth.Mode)
	}

	seen := make(map[string]bool, len(p.Symbols))
	for i, s := range p.Symbols {
		if s == "" {
			return fmt.Errorf("symbols[%d]: empty symbol", i)
		}
		if seen[s] {
			return fmt.Errorf("symbols[%d]: duplicate symbol %q", i, s)
		}
		seen[s] = true
	}

	known := types.NewCatalog()
	jobs := make(map[string]bool, len(p.Jobs))
	for i, j := range p.Jobs {
		if !known.Has(j.Name) {
			return fmt.Errorf("jobs[%d]: unknown job %q", i, j.Name)
		}
		if jobs[j.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job %q", i, j.Name)
		}
		jobs[j.Name] = true
	}
	return nil
}
