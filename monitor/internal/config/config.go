package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipewatch/pipewatch/pkg/types"
)

// Default values for the monitor configuration.
const (
	DefaultHTTPPort      = 8080
	DefaultWindow        = 300 * time.Second
	DefaultHeartbeatTick = 60 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
	DefaultRateLimit     = 900 * time.Second
	DefaultMaxSilence    = 24 * time.Hour
	DefaultSMTPPort      = 587
	DefaultSMTPTLS       = "opportunistic"
	DefaultLogLevel      = "info"
)

// Config holds the monitor configuration parsed from the `monitor:` section
// of the YAML file. Other top-level keys (e.g. `pipeline:`) are ignored.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
}

// MonitorConfig holds all monitor settings.
type MonitorConfig struct {
	// HTTPPort serves the status API, event push endpoint, /metrics and /ws/stream.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Window is the alignment period of the metric extractor (default 300s).
	Window time.Duration `yaml:"window"`

	// HeartbeatTick is the absence check interval. It must be smaller than the
	// smallest job max_silence.
	HeartbeatTick time.Duration `yaml:"heartbeat_tick"`

	// DQJob names the job whose WARN events count as dq_fail.
	DQJob string `yaml:"dq_job"`

	// NotifyTimeout bounds a single channel delivery.
	NotifyTimeout time.Duration `yaml:"notify_timeout"`

	// Jobs lists the known job names and their silence windows. When empty the
	// canonical pipeline jobs are used with DefaultMaxSilence.
	Jobs []JobConfig `yaml:"jobs"`

	Ingest   IngestConfig    `yaml:"ingest"`
	SMTP     SMTPConfig      `yaml:"smtp"`
	Channels []ChannelConfig `yaml:"channels"`
	Policies []PolicyConfig  `yaml:"policies"`
}

// JobConfig declares one monitored job.
type JobConfig struct {
	Name string `yaml:"name"`

	// MaxSilence is the longest tolerated gap between OK events.
	MaxSilence time.Duration `yaml:"max_silence"`
}

// IngestConfig selects the event sources. Any combination may be enabled.
type IngestConfig struct {
	File  FileSourceConfig  `yaml:"file"`
	Redis RedisSourceConfig `yaml:"redis"`
	HTTP  HTTPSourceConfig  `yaml:"http"`
}

// FileSourceConfig tails a JSON-lines events file.
type FileSourceConfig struct {
	Path string `yaml:"path"`

	// FromStart replays the existing file content on startup instead of
	// starting at the end.
	FromStart bool `yaml:"from_start"`
}

// RedisSourceConfig subscribes to a Redis pub/sub channel.
type RedisSourceConfig struct {
	Addr        string `yaml:"addr"`
	Channel     string `yaml:"channel"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisSourceConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// HTTPSourceConfig controls the POST /api/v1/events endpoint.
type HTTPSourceConfig struct {
	Enabled bool `yaml:"enabled"`

	// KeyEnv is the environment variable holding the expected API key.
	// Empty disables authentication.
	KeyEnv string `yaml:"key_env"`

	// Header carries the key. Defaults to "X-Api-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (h HTTPSourceConfig) Key() string {
	if h.KeyEnv == "" {
		return ""
	}
	return os.Getenv(h.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-Api-Key".
func (h HTTPSourceConfig) EffectiveHeader() string {
	if h.Header != "" {
		return h.Header
	}
	return "X-Api-Key"
}

// SMTPConfig is shared by all email channels.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	From        string `yaml:"from"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// TLS is "opportunistic" (STARTTLS when offered), "mandatory" or "none".
	TLS string `yaml:"tls"`
}

// Password returns the SMTP password resolved from the environment.
func (s SMTPConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// ChannelConfig defines one notification delivery target.
type ChannelConfig struct {
	ID string `yaml:"id"`

	// Type is one of: email | webhook.
	Type string `yaml:"type"`

	// Address is an email address or a webhook URL. AddressEnv, when set,
	// overrides it with the value of that environment variable.
	Address    string `yaml:"address"`
	AddressEnv string `yaml:"address_env"`

	// Format applies to webhooks: generic | slack | teams. Defaults to generic.
	Format string `yaml:"format"`

	// SecretEnv names the variable holding the HMAC signing secret (webhooks).
	SecretEnv string `yaml:"secret_env"`
}

// ResolvedAddress returns the address, preferring AddressEnv when set.
func (c ChannelConfig) ResolvedAddress() string {
	if c.AddressEnv != "" {
		if v := os.Getenv(c.AddressEnv); v != "" {
			return v
		}
	}
	return c.Address
}

// Secret returns the webhook signing secret resolved from the environment.
func (c ChannelConfig) Secret() string {
	if c.SecretEnv == "" {
		return ""
	}
	return os.Getenv(c.SecretEnv)
}

// PolicyConfig defines one alert policy.
type PolicyConfig struct {
	// Name is the policy identifier and rate-limit key.
	Name string `yaml:"name"`

	// Condition is "metric op threshold" (e.g. "job_error > 0") or "absence".
	Condition string `yaml:"condition"`

	// Job optionally restricts the policy to a single job's series.
	Job string `yaml:"job"`

	// Window is the aggregation window. Zero means one extractor window.
	Window time.Duration `yaml:"window"`

	// RateLimit suppresses re-notification for this long after a firing.
	// Defaults to 900s.
	RateLimit time.Duration `yaml:"rate_limit"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	Channels      []string `yaml:"channels"`
	Documentation string   `yaml:"documentation"`
}

// Load reads and parses the config file at path, returning the monitor configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("monitor config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("monitor config: parse yaml: %w", err)
	}
	fill(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			HTTPPort:      DefaultHTTPPort,
			LogLevel:      DefaultLogLevel,
			Window:        DefaultWindow,
			HeartbeatTick: DefaultHeartbeatTick,
			DQJob:         types.JobDQChecker,
			NotifyTimeout: DefaultNotifyTimeout,
			SMTP:          SMTPConfig{Port: DefaultSMTPPort, TLS: DefaultSMTPTLS},
		},
	}
}

// fill applies per-element defaults that yaml cannot express.
func fill(cfg *Config) {
	m := &cfg.Monitor
	if len(m.Jobs) == 0 {
		for _, name := range types.CanonicalJobs {
			m.Jobs = append(m.Jobs, JobConfig{Name: name, MaxSilence: DefaultMaxSilence})
		}
	}
	for i := range m.Jobs {
		if m.Jobs[i].MaxSilence == 0 {
			m.Jobs[i].MaxSilence = DefaultMaxSilence
		}
	}
	for i := range m.Policies {
		p := &m.Policies[i]
		if p.RateLimit == 0 {
			p.RateLimit = DefaultRateLimit
		}
		if p.Window == 0 {
			p.Window = m.Window
		}
		if p.Severity == "" {
			p.Severity = "warning"
		}
	}
	for i := range m.Channels {
		if m.Channels[i].Type == "webhook" && m.Channels[i].Format == "" {
			m.Channels[i].Format = "generic"
		}
	}
}

// validate checks structural constraints on the parsed configuration.
// Policy conditions and channel references are checked again by the engine
// and registry constructors, which own their semantics.
func validate(cfg *Config) error {
	m := cfg.Monitor
	if m.HTTPPort <= 0 || m.HTTPPort > 65535 {
		return fmt.Errorf("monitor.http_port %d is out of range [1, 65535]", m.HTTPPort)
	}
	switch m.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("monitor.log_level %q unknown: want debug|info|warn|error", m.LogLevel)
	}
	if m.Window <= 0 {
		return fmt.Errorf("monitor.window must be positive")
	}
	if m.HeartbeatTick <= 0 {
		return fmt.Errorf("monitor.heartbeat_tick must be positive")
	}
	if m.NotifyTimeout <= 0 {
		return fmt.Errorf("monitor.notify_timeout must be positive")
	}

	jobs := make(map[string]bool, len(m.Jobs))
	for i, j := range m.Jobs {
		if j.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if jobs[j.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job %q", i, j.Name)
		}
		jobs[j.Name] = true
		if j.MaxSilence < 0 {
			return fmt.Errorf("jobs[%d] %q: max_silence must not be negative", i, j.Name)
		}
		if m.HeartbeatTick >= j.MaxSilence {
			return fmt.Errorf("jobs[%d] %q: heartbeat_tick %v must be smaller than max_silence %v",
				i, j.Name, m.HeartbeatTick, j.MaxSilence)
		}
	}
	if !jobs[m.DQJob] {
		return fmt.Errorf("monitor.dq_job %q is not a configured job", m.DQJob)
	}

	switch m.SMTP.TLS {
	case "opportunistic", "mandatory", "none":
	default:
		return fmt.Errorf("smtp.tls %q: want opportunistic|mandatory|none", m.SMTP.TLS)
	}

	channels := make(map[string]bool, len(m.Channels))
	for i, c := range m.Channels {
		if c.ID == "" {
			return fmt.Errorf("channels[%d]: id is required", i)
		}
		if channels[c.ID] {
			return fmt.Errorf("channels[%d]: duplicate id %q", i, c.ID)
		}
		channels[c.ID] = true
		switch c.Type {
		case "email":
			if m.SMTP.Host == "" {
				return fmt.Errorf("channels[%d] %q: email channels need smtp.host", i, c.ID)
			}
		case "webhook":
			switch c.Format {
			case "generic", "slack", "teams":
			default:
				return fmt.Errorf("channels[%d] %q: unknown format %q", i, c.ID, c.Format)
			}
		default:
			return fmt.Errorf("channels[%d] %q: unknown type %q: want email|webhook", i, c.ID, c.Type)
		}
	}

	policies := make(map[string]bool, len(m.Policies))
	for i, p := range m.Policies {
		if p.Name == "" {
			return fmt.Errorf("policies[%d]: name is required", i)
		}
		if policies[p.Name] {
			return fmt.Errorf("policies[%d]: duplicate name %q", i, p.Name)
		}
		policies[p.Name] = true
		if p.Job != "" && !jobs[p.Job] {
			return fmt.Errorf("policies[%d] %q: job %q is not configured", i, p.Name, p.Job)
		}
		if p.RateLimit < 0 {
			return fmt.Errorf("policies[%d] %q: rate_limit must not be negative", i, p.Name)
		}
		for _, id := range p.Channels {
			if !channels[id] {
				return fmt.Errorf("policies[%d] %q: undefined channel %q", i, p.Name, id)
			}
		}
	}

	if m.Ingest.Redis.Addr != "" && m.Ingest.Redis.Channel == "" {
		return fmt.Errorf("ingest.redis.channel is required when addr is set")
	}
	return nil
}

// JobNames returns the configured job names in declaration order.
func (m MonitorConfig) JobNames() []string {
	out := make([]string, 0, len(m.Jobs))
	for _, j := range m.Jobs {
		out = append(out, j.Name)
	}
	return out
}

// SilenceWindows returns max_silence keyed by job name.
func (m MonitorConfig) SilenceWindows() map[string]time.Duration {
	out := make(map[string]time.Duration, len(m.Jobs))
	for _, j := range m.Jobs {
		out[j.Name] = j.MaxSilence
	}
	return out
}
