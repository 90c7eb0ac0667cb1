package healthmonitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoHealthMonitor/pkg/aggregate"
	"GoHealthMonitor/pkg/config"
	"GoHealthMonitor/pkg/health"
	"GoHealthMonitor/pkg/monitor"
)

func TestBuildDevelopmentDefaults(t *testing.T) {
	cfg, err := config.Parse(nil, config.Development)
	require.NoError(t, err)
	cfg.Sources.Simulated.Seed = 7

	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	loop, cleanup, err := Build(context.Background(), cfg, reg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, 10*time.Second, loop.Interval())

	rep := loop.RunCycle(context.Background())
	assert.Equal(t, 3, rep.Samples, "one sample per simulated provider")
	assert.Empty(t, rep.Failures)
	assert.ElementsMatch(t, []string{"aws", "azure", "gcp"}, rep.View.SourceNames())
	assert.Nil(t, rep.Predictions, "forecasting is off in development")
	n, err := testutil.GatherAndCount(reg, "healthmon_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg, err := config.Parse([]byte(`
rules:
  - metric: cpu
    warn: 10
    critical: 20
    consecutive: 1
sources:
  providers: [aws]
  simulated:
    base: {cpu: 99}
    seed: 1
sinks:
  log: false
  redis:
    enabled: true
redis:
  dedup: true
`), config.Production)
	require.NoError(t, err)
	cfg.Redis.Addr = mr.Addr()

	logger, _ := test.NewNullLogger()
	loop, cleanup, err := Build(context.Background(), cfg, nil, logger)
	require.NoError(t, err)
	defer cleanup()

	rep := loop.RunCycle(context.Background())
	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, health.Warning, rep.Alerts[0].Current)
	require.Len(t, rep.Deliveries, 1)
	require.Len(t, rep.Deliveries[0].Outcomes, 1)
	assert.Equal(t, "redis", rep.Deliveries[0].Outcomes[0].Sink)
	assert.NoError(t, rep.Deliveries[0].Outcomes[0].Err)

	assert.True(t, mr.Exists("healthmon:dedup:cpu|WARNING|transition"))
	recent, err := mr.List("healthmon:alerts:recent")
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg, err := config.Parse(nil, "")
	require.NoError(t, err)
	cfg.Rules[0].Warn = cfg.Rules[0].Critical + 1

	_, cleanup, err := Build(context.Background(), cfg, nil, nil)
	cleanup()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestBanner(t *testing.T) {
	cfg, err := config.Parse(nil, config.Production)
	require.NoError(t, err)

	b := Banner(cfg)
	assert.Contains(t, b, "Predictive Monitor")
	assert.Contains(t, b, "Environment: PRODUCTION")
	assert.Contains(t, b, "Monitoring interval: 1m0s")
	assert.Contains(t, b, "Cloud providers: aws, azure, gcp")
	assert.Contains(t, b, "Metrics endpoint: :8080/metrics")
	assert.NotContains(t, b, "Development Mode")

	cfg, err = config.Parse(nil, config.Development)
	require.NoError(t, err)
	assert.Contains(t, Banner(cfg), "Development Mode: ENABLED")
	assert.Contains(t, Banner(cfg), "Standard Monitor")
}

func TestLogReports(t *testing.T) {
	logger, hook := test.NewNullLogger()
	observe := LogReports(logger)

	observe(monitor.Report{Seq: 1, Overall: health.Healthy})
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "System Status: HEALTHY", hook.LastEntry().Message)

	observe(monitor.Report{
		Seq:     2,
		Overall: health.Critical,
		States:  map[string]health.State{"memory": health.Warning, "cpu": health.Critical, "disk": health.Healthy},
	})
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "System Status: CRITICAL - cpu=CRITICAL, memory=WARNING", hook.LastEntry().Message)
	assert.Equal(t, uint64(2), hook.LastEntry().Data["cycle"])
}

func TestLogReportsNamesMissingMetrics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	observe := LogReports(logger)

	// aws stops answering and ages past the 30s staleness window
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := aggregate.New(30 * time.Second)
	view := agg.Aggregate(t0, []health.Sample{
		health.NewSample("aws", t0, health.Readings{"cpu": 40}),
		health.NewSample("gcp", t0, health.Readings{"cpu": 50}),
	}, nil, nil)
	for i := 1; i <= 4; i++ {
		now := t0.Add(time.Duration(i) * 10 * time.Second)
		view = agg.Aggregate(now,
			[]health.Sample{health.NewSample("gcp", now, health.Readings{"cpu": 50})},
			map[string]error{"aws": errors.New("unreachable")}, view)
	}

	observe(monitor.Report{Seq: 5, Overall: health.Healthy, View: view, Held: []string{"disk"}})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "No usable data: cpu=MISSING (aws), disk=MISSING", entries[0].Message)
	assert.Equal(t, "System Status: HEALTHY", entries[1].Message)

	hook.Reset()
	observe(monitor.Report{Seq: 6, Overall: health.Healthy})
	require.Len(t, hook.AllEntries(), 1, "nothing missing, only the status line")
}
