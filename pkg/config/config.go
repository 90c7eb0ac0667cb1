// Package config loads the monitor configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"GoHealthMonitor/pkg/threshold"
)

// EnvVar selects the environment profile and overrides the file's environment.
const EnvVar = "HEALTHMON_ENV"

const (
	Production  = "production"
	Development = "development"
)

// Config is the full monitor configuration.
type Config struct {
	Environment string           `yaml:"environment"`
	Monitor     MonitorConfig    `yaml:"monitor"`
	Collect     CollectConfig    `yaml:"collect"`
	Rules       []threshold.Rule `yaml:"rules"`
	Forecast    ForecastConfig   `yaml:"forecast"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Sources     SourcesConfig    `yaml:"sources"`
	Sinks       SinksConfig      `yaml:"sinks"`
	Redis       RedisConfig      `yaml:"redis"`
	Log         LogConfig        `yaml:"log"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
}

// MonitorConfig drives the cycle cadence.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	GracePeriod  time.Duration `yaml:"grace_period"`  // forecast and dispatch join bound
	HardDeadline time.Duration `yaml:"hard_deadline"` // whole-cycle bound
	Staleness    time.Duration `yaml:"staleness"`     // how long a last-known value is reused
}

// CollectConfig bounds source polling.
type CollectConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// ForecastConfig configures predictive monitoring.
type ForecastConfig struct {
	Enabled       *bool         `yaml:"enabled"`
	Model         string        `yaml:"model"` // linear or holt
	Horizon       time.Duration `yaml:"horizon"`
	MinHistory    int           `yaml:"min_history"`
	MinConfidence float64       `yaml:"min_confidence"`
	HistorySize   int           `yaml:"history_size"`
	Window        int           `yaml:"window"` // linear model points, 0 for all
}

// On reports whether forecasting is enabled.
func (f ForecastConfig) On() bool { return f.Enabled != nil && *f.Enabled }

// DispatchConfig configures alert delivery.
type DispatchConfig struct {
	Cooldown    time.Duration `yaml:"cooldown"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	RateLimit   float64       `yaml:"rate_limit"` // per sink deliveries per second, 0 for none
	Burst       int           `yaml:"burst"`
}

// SourcesConfig lists the metric sources.
type SourcesConfig struct {
	Providers  []string         `yaml:"providers"` // simulated cloud providers
	Simulated  SimulatedConfig  `yaml:"simulated"`
	Host       HostConfig       `yaml:"host"`
	Runtime    bool             `yaml:"runtime"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// SimulatedConfig tunes the simulated providers.
type SimulatedConfig struct {
	Base        map[string]float64 `yaml:"base"`
	Variance    float64            `yaml:"variance"`
	FailureRate float64            `yaml:"failure_rate"`
	Latency     time.Duration      `yaml:"latency"`
	Seed        uint64             `yaml:"seed"`
}

// HostConfig enables the local machine reader.
type HostConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mount   string `yaml:"mount"`
}

// PrometheusConfig enables a Prometheus-backed source.
type PrometheusConfig struct {
	URL     string            `yaml:"url"`
	Name    string            `yaml:"name"`
	Queries map[string]string `yaml:"queries"`
}

// SinksConfig lists the alert sinks.
type SinksConfig struct {
	Log     *bool         `yaml:"log"`
	Webhook WebhookConfig `yaml:"webhook"`
	Redis   RedisSink     `yaml:"redis"`
}

// LogOn reports whether the log sink is enabled. It defaults to on.
func (s SinksConfig) LogOn() bool { return s.Log == nil || *s.Log }

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// RedisSink configures publishing alerts to redis.
type RedisSink struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
	ListKey string `yaml:"list_key"`
	Keep    int64  `yaml:"keep"`
}

// RedisConfig is the redis connection shared by the redis sink and dedup store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Dedup    bool   `yaml:"dedup"` // share the dedup history through redis
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// TelemetryConfig configures the metrics endpoint.
type TelemetryConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
	Path   string `yaml:"path"`
}

// Load reads path, applies the environment profile and defaults.
// An empty path yields the profile defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return Parse(data, os.Getenv(EnvVar))
}

// Parse decodes data and applies defaults for env, which wins over the
// file's environment when set.
func Parse(data []byte, env string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if env != "" {
		cfg.Environment = env
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.Environment == "" {
		cfg.Environment = Development
	}
	cfg.applyDefaults()
	return cfg, nil
}

// profile holds the settings that differ between environments.
type profile struct {
	interval time.Duration
	warn     float64
	forecast bool
	logLevel string
	listen   string
}

var profiles = map[string]profile{
	Production:  {interval: time.Minute, warn: 80, forecast: true, logLevel: "info", listen: ":8080"},
	Development: {interval: 10 * time.Second, warn: 90, forecast: false, logLevel: "debug", listen: ":3000"},
}

func (c *Config) profile() profile {
	if p, ok := profiles[c.Environment]; ok {
		return p
	}
	return profiles[Development]
}

func (c *Config) applyDefaults() {
	p := c.profile()

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = p.interval
	}
	if c.Monitor.GracePeriod == 0 {
		c.Monitor.GracePeriod = c.Monitor.Interval / 2
	}
	if c.Monitor.HardDeadline == 0 {
		c.Monitor.HardDeadline = c.Monitor.Interval
	}
	if c.Monitor.Staleness == 0 {
		c.Monitor.Staleness = 3 * c.Monitor.Interval
	}

	if c.Collect.Timeout == 0 {
		c.Collect.Timeout = 5 * time.Second
	}
	if c.Collect.Attempts == 0 {
		c.Collect.Attempts = 2
	}
	if c.Collect.Backoff == 0 {
		c.Collect.Backoff = 200 * time.Millisecond
	}

	if len(c.Rules) == 0 {
		for _, metric := range []string{"cpu", "memory", "disk"} {
			c.Rules = append(c.Rules, threshold.Rule{
				Metric:      metric,
				Warn:        p.warn,
				Critical:    95,
				Hysteresis:  5,
				Consecutive: 3,
			})
		}
	}
	for i := range c.Rules {
		c.Rules[i] = c.Rules[i].Normalized()
		if c.Rules[i].Consecutive == 0 {
			c.Rules[i].Consecutive = 1
		}
	}

	if c.Forecast.Enabled == nil {
		on := p.forecast
		c.Forecast.Enabled = &on
	}
	if c.Forecast.Model == "" {
		c.Forecast.Model = "linear"
	}
	if c.Forecast.Horizon == 0 {
		c.Forecast.Horizon = 300 * time.Second
	}
	if c.Forecast.MinHistory == 0 {
		c.Forecast.MinHistory = 5
	}
	if c.Forecast.MinConfidence == 0 {
		c.Forecast.MinConfidence = 70
	}
	if c.Forecast.HistorySize == 0 {
		c.Forecast.HistorySize = 60
	}

	if c.Dispatch.Cooldown == 0 {
		c.Dispatch.Cooldown = 5 * time.Minute
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.BaseBackoff == 0 {
		c.Dispatch.BaseBackoff = 500 * time.Millisecond
	}
	if c.Dispatch.MaxBackoff == 0 {
		c.Dispatch.MaxBackoff = 10 * time.Second
	}
	if c.Dispatch.Burst == 0 {
		c.Dispatch.Burst = 1
	}

	if len(c.Sources.Providers) == 0 && !c.Sources.Host.Enabled && c.Sources.Prometheus.URL == "" {
		c.Sources.Providers = []string{"aws", "azure", "gcp"}
	}
	if c.Sources.Simulated.Variance == 0 {
		c.Sources.Simulated.Variance = 15
	}
	if c.Sources.Prometheus.Name == "" {
		c.Sources.Prometheus.Name = "prometheus"
	}

	if c.Sinks.Webhook.Timeout == 0 {
		c.Sinks.Webhook.Timeout = 5 * time.Second
	}
	if c.Sinks.Redis.Channel == "" {
		c.Sinks.Redis.Channel = "healthmon:alerts"
	}
	if c.Sinks.Redis.ListKey == "" {
		c.Sinks.Redis.ListKey = "healthmon:alerts:recent"
	}
	if c.Sinks.Redis.Keep == 0 {
		c.Sinks.Redis.Keep = 100
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "healthmon"
	}

	if c.Log.Level == "" {
		c.Log.Level = p.logLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Telemetry.Listen == "" {
		c.Telemetry.Listen = p.listen
	}
	if c.Telemetry.Path == "" {
		c.Telemetry.Path = "/metrics"
	}
}

// ErrInvalidConfig is matched by every ValidationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

// Validate reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, ok := profiles[c.Environment]; !ok {
		addf("unknown environment %q", c.Environment)
	}
	if c.Monitor.Interval <= 0 {
		addf("monitor.interval must be positive")
	}
	if c.Monitor.GracePeriod < 0 || c.Monitor.HardDeadline < 0 {
		addf("monitor grace_period and hard_deadline must not be negative")
	}
	if c.Monitor.Staleness <= 0 {
		addf("monitor.staleness must be positive")
	}
	if c.Collect.Timeout <= 0 {
		addf("collect.timeout must be positive")
	}
	if c.Collect.Attempts < 1 {
		addf("collect.attempts must be at least 1")
	}

	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			addf("%v", err)
		}
		if seen[r.Metric] {
			addf("duplicate rule for metric %q", r.Metric)
		}
		seen[r.Metric] = true
	}

	if c.Forecast.On() {
		if c.Forecast.Model != "linear" && c.Forecast.Model != "holt" {
			addf("unknown forecast model %q", c.Forecast.Model)
		}
		if c.Forecast.Horizon <= 0 {
			addf("forecast.horizon must be positive")
		}
		if c.Forecast.MinHistory < 2 {
			addf("forecast.min_history must be at least 2")
		}
		if c.Forecast.HistorySize < c.Forecast.MinHistory {
			addf("forecast.history_size must hold min_history views")
		}
	}
	if c.Forecast.MinConfidence < 0 || c.Forecast.MinConfidence > 100 {
		addf("forecast.min_confidence must be within 0..100")
	}

	if c.Dispatch.Cooldown < 0 {
		addf("dispatch.cooldown must not be negative")
	}
	if c.Dispatch.MaxAttempts < 1 {
		addf("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.BaseBackoff < 0 || c.Dispatch.MaxBackoff < c.Dispatch.BaseBackoff {
		addf("dispatch backoff must satisfy 0 <= base_backoff <= max_backoff")
	}
	if c.Dispatch.RateLimit < 0 {
		addf("dispatch.rate_limit must not be negative")
	}

	names := make(map[string]bool)
	for _, p := range c.Sources.Providers {
		if p == "" || names[p] {
			addf("provider names must be unique and non-empty, got %q", p)
		}
		names[p] = true
	}
	if len(c.Sources.Providers) == 0 && !c.Sources.Host.Enabled && !c.Sources.Runtime && c.Sources.Prometheus.URL == "" {
		addf("no metric sources configured")
	}
	if r := c.Sources.Simulated.FailureRate; r < 0 || r > 1 {
		addf("sources.simulated.failure_rate must be within 0..1")
	}
	if c.Sources.Prometheus.URL != "" {
		if _, err := url.ParseRequestURI(c.Sources.Prometheus.URL); err != nil {
			addf("sources.prometheus.url: %v", err)
		}
	}

	if u := c.Sinks.Webhook.URL; u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			addf("sinks.webhook.url: %v", err)
		}
	}
	if (c.Sinks.Redis.Enabled || c.Redis.Dedup) && c.Redis.Addr == "" {
		addf("redis.addr is required by the redis sink and redis dedup")
	}
	if !c.Sinks.LogOn() && c.Sinks.Webhook.URL == "" && !c.Sinks.Redis.Enabled {
		addf("no alert sinks configured")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		addf("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		addf("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
