// Package healthmonitor assembles a runnable monitor from configuration.
package healthmonitor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"GoHealthMonitor/pkg/aggregate"
	"GoHealthMonitor/pkg/alert"
	"GoHealthMonitor/pkg/collector"
	"GoHealthMonitor/pkg/config"
	"GoHealthMonitor/pkg/forecast"
	"GoHealthMonitor/pkg/health"
	"GoHealthMonitor/pkg/monitor"
	"GoHealthMonitor/pkg/telemetry"
	"GoHealthMonitor/pkg/threshold"
)

// Version is reported in the startup banner.
const Version = "3.5.0"

// Build validates cfg and wires every component into a monitor loop.
// A nil reg disables telemetry. The returned cleanup releases the redis
// connection, if any, and is safe to call when Build fails.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger logrus.FieldLogger) (*monitor.Loop, func(), error) {
	cleanup := func() {}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, cleanup, err
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" && (cfg.Redis.Dedup || cfg.Sinks.Redis.Enabled) {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup = func() { _ = rdb.Close() }
		if err := rdb.Ping(ctx).Err(); err != nil {
			// deliveries retry and dedup fails open, so an absent redis is not fatal
			logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unreachable at startup")
		}
	}

	var metrics *telemetry.Metrics
	if reg != nil {
		metrics = telemetry.New(reg)
	}

	c := monitor.Components{
		Sources:    sources,
		Collector:  collector.New(collector.Config{Timeout: cfg.Collect.Timeout, Attempts: cfg.Collect.Attempts, Backoff: cfg.Collect.Backoff}, logger),
		Aggregator: aggregate.New(cfg.Monitor.Staleness),
		Evaluator:  threshold.NewEvaluator(cfg.Rules, logger),
		Dispatcher: buildDispatcher(cfg, rdb, logger),
		Metrics:    metrics,
	}
	if cfg.Forecast.On() {
		c.Forecaster = forecast.NewStage(model(cfg.Forecast), forecast.Config{
			Horizon:       cfg.Forecast.Horizon,
			MinHistory:    cfg.Forecast.MinHistory,
			MinConfidence: cfg.Forecast.MinConfidence,
		}, cfg.Rules, logger)
		c.History = forecast.NewHistory(cfg.Forecast.HistorySize)
	}

	loop, err := monitor.New(c, monitor.Options{
		Interval:     cfg.Monitor.Interval,
		GracePeriod:  cfg.Monitor.GracePeriod,
		HardDeadline: cfg.Monitor.HardDeadline,
	}, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return loop, cleanup, nil
}

// defaultBase is the simulated load of a provider when none is configured.
var defaultBase = health.Readings{"cpu": 55, "memory": 60, "disk": 50, "traffic": 450}

func buildSources(cfg *config.Config) ([]health.Source, error) {
	var out []health.Source

	base := health.Readings(cfg.Sources.Simulated.Base)
	if len(base) == 0 {
		base = defaultBase
	}
	for i, name := range cfg.Sources.Providers {
		seed := cfg.Sources.Simulated.Seed
		if seed != 0 {
			seed += uint64(i)
		}
		s := health.NewSimulatedSource(name, base, cfg.Sources.Simulated.Variance, seed)
		s.FailureRate = cfg.Sources.Simulated.FailureRate
		s.Latency = cfg.Sources.Simulated.Latency
		out = append(out, s)
	}

	if cfg.Sources.Host.Enabled {
		out = append(out, health.NewHostSource("host", cfg.Sources.Host.Mount))
	}
	if cfg.Sources.Runtime {
		out = append(out, health.NewRuntimeSource("runtime"))
	}
	if p := cfg.Sources.Prometheus; p.URL != "" {
		src, err := health.NewPrometheusSource(p.Name, p.URL, p.Queries)
		if err != nil {
			return nil, fmt.Errorf("prometheus source: %w", err)
		}
		out = append(out, src)
	}
	return out, nil
}

func buildDispatcher(cfg *config.Config, rdb *redis.Client, logger logrus.FieldLogger) *alert.Dispatcher {
	var store alert.DedupStore
	if rdb != nil && cfg.Redis.Dedup {
		store = alert.NewRedisDedup(rdb, cfg.Redis.Prefix)
	}

	d := alert.NewDispatcher(alert.Config{
		Cooldown: cfg.Dispatch.Cooldown,
		Backoff: alert.Backoff{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			Base:        cfg.Dispatch.BaseBackoff,
			Max:         cfg.Dispatch.MaxBackoff,
		},
	}, store, logger)

	throttle := func() *alert.Throttle {
		if cfg.Dispatch.RateLimit <= 0 {
			return nil
		}
		return alert.NewThrottle(cfg.Dispatch.RateLimit, cfg.Dispatch.Burst)
	}

	if cfg.Sinks.LogOn() {
		d.AddSink(alert.NewLogSink(logger), nil)
	}
	if w := cfg.Sinks.Webhook; w.URL != "" {
		d.AddSink(alert.NewWebhookSink(w.URL, w.Timeout, w.Headers), throttle())
	}
	if r := cfg.Sinks.Redis; r.Enabled && rdb != nil {
		d.AddSink(alert.NewRedisSink(rdb, r.Channel, r.ListKey, r.Keep), throttle())
	}
	return d
}

func model(f config.ForecastConfig) forecast.Model {
	if f.Model == "holt" {
		return forecast.Holt{}
	}
	return forecast.LinearTrend{Window: f.Window}
}

// Banner is the startup summary printed before the first cycle.
func Banner(cfg *config.Config) string {
	var b strings.Builder
	line := strings.Repeat("=", 48)

	edition := "Standard Monitor"
	if cfg.Forecast.On() {
		edition = "Predictive Monitor"
	}
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "GoHealthMonitor %s - %s\n", Version, edition)
	fmt.Fprintf(&b, "Environment: %s\n", strings.ToUpper(cfg.Environment))
	if cfg.Environment == config.Development {
		fmt.Fprintln(&b, "Development Mode: ENABLED")
	}
	if cfg.Forecast.On() {
		fmt.Fprintf(&b, "Predictive Monitoring: ENABLED (%s model, %s horizon)\n", cfg.Forecast.Model, cfg.Forecast.Horizon)
	}
	fmt.Fprintf(&b, "Monitoring interval: %s\n", cfg.Monitor.Interval)
	if cfg.Telemetry.Listen != "" {
		fmt.Fprintf(&b, "Metrics endpoint: %s%s\n", cfg.Telemetry.Listen, cfg.Telemetry.Path)
	}
	if len(cfg.Sources.Providers) > 0 {
		fmt.Fprintf(&b, "Cloud providers: %s\n", strings.Join(cfg.Sources.Providers, ", "))
	}
	fmt.Fprint(&b, line)
	return b.String()
}

// LogReports returns a cycle observer that logs the system status line.
// Metrics without a usable value are logged at warn level before it.
func LogReports(logger logrus.FieldLogger) func(monitor.Report) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(rep monitor.Report) {
		entry := logger.WithFields(logrus.Fields{
			"cycle":    rep.Seq,
			"samples":  rep.Samples,
			"failures": len(rep.Failures),
			"duration": rep.Duration.Round(time.Millisecond),
		})
		for _, p := range rep.Predictions {
			if p.Err == nil {
				entry.Debugf("forecast %s in %s: %.2f (confidence %.0f%%)", p.Metric, p.Horizon, p.Predicted, p.Confidence)
			}
		}
		if rep.Err != nil {
			entry.WithError(rep.Err).Error("System Status: UNKNOWN")
			return
		}
		if m := missing(rep); m != "" {
			entry.Warn("No usable data: " + m)
		}
		switch rep.Overall {
		case health.Healthy:
			entry.Info("System Status: HEALTHY")
		case health.Warning:
			entry.Warn("System Status: WARNING - " + degraded(rep))
		default:
			entry.Error("System Status: CRITICAL - " + degraded(rep))
		}
	}
}

func degraded(rep monitor.Report) string {
	var parts []string
	for _, metric := range slices.Sorted(maps.Keys(rep.States)) {
		if s := rep.States[metric]; s != health.Healthy {
			parts = append(parts, metric+"="+s.String())
		}
	}
	return strings.Join(parts, ", ")
}

// missing lists metrics without a usable value, naming the sources that
// went silent, e.g. "cpu=MISSING (aws, gcp), disk=STALE".
func missing(rep monitor.Report) string {
	silent := make(map[string][]string)
	for _, f := range rep.View.Failures() {
		if f.Metric != "" {
			silent[f.Metric] = append(silent[f.Metric], f.Source)
		}
	}
	for _, metric := range rep.Held {
		if _, ok := silent[metric]; !ok {
			silent[metric] = nil
		}
	}

	var parts []string
	for _, metric := range slices.Sorted(maps.Keys(silent)) {
		if sources := silent[metric]; len(sources) > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s (%s)", metric, aggregate.Missing, strings.Join(sources, ", ")))
			continue
		}
		status := aggregate.Missing
		if st, ok := rep.View.Metric(metric); ok {
			status = st.Status
		}
		parts = append(parts, metric+"="+status.String())
	}
	return strings.Join(parts, ", ")
}
