// Package telemetry exposes the monitor's own operation as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"GoHealthMonitor/pkg/health"
)

const namespace = "healthmon"

// Metrics holds the collectors registered by New. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	SkippedTriggers prometheus.Counter
	AbandonedStages *prometheus.CounterVec
	SourceFailures  *prometheus.CounterVec
	Alerts          *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	Suppressed      prometheus.Counter
	HealthState     *prometheus.GaugeVec
	OverallState    prometheus.Gauge
	Forecast        *prometheus.GaugeVec
	ForecastConf    *prometheus.GaugeVec
}

// New registers all collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed monitoring cycles.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a monitoring cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SkippedTriggers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_triggers_total",
			Help:      "Ticks dropped because the previous cycle was still running.",
		}),
		AbandonedStages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_stages_total",
			Help:      "Cycle stages cancelled after exceeding the grace period.",
		}, []string{"stage"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Failed polls per source.",
		}, []string{"source"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts produced, by metric, state and kind.",
		}, []string{"metric", "state", "kind"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Sink delivery outcomes.",
		}, []string{"sink", "outcome"}),
		Suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_alerts_total",
			Help:      "Alerts dropped as duplicates within the cooldown.",
		}),
		HealthState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_state",
			Help:      "Per-metric health: 0 healthy, 1 warning, 2 critical.",
		}, []string{"metric"}),
		OverallState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overall_state",
			Help:      "Most severe metric state.",
		}),
		Forecast: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_value",
			Help:      "Predicted metric value at the forecast horizon.",
		}, []string{"metric"}),
		ForecastConf: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_confidence",
			Help:      "Forecast confidence, 0 to 100.",
		}, []string{"metric"}),
	}
}

// CycleDone records a finished cycle.
func (m *Metrics) CycleDone(d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// TriggerSkipped records a dropped tick.
func (m *Metrics) TriggerSkipped() {
	if m == nil {
		return
	}
	m.SkippedTriggers.Inc()
}

// StageAbandoned records a stage cut off by the grace period.
func (m *Metrics) StageAbandoned(stage string) {
	if m == nil {
		return
	}
	m.AbandonedStages.WithLabelValues(stage).Inc()
}

// SourceFailed records a failed poll.
func (m *Metrics) SourceFailed(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

// AlertRaised records a produced alert.
func (m *Metrics) AlertRaised(a health.Alert) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(a.Metric, a.Current.String(), string(a.Kind)).Inc()
}

// Delivered records one sink outcome.
func (m *Metrics) Delivered(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Deliveries.WithLabelValues(sink, outcome).Inc()
}

// AlertSuppressed records a deduplicated alert.
func (m *Metrics) AlertSuppressed() {
	if m == nil {
		return
	}
	m.Suppressed.Inc()
}

// States publishes the current per-metric and overall states.
func (m *Metrics) States(states map[string]health.State, overall health.State) {
	if m == nil {
		return
	}
	for metric, s := range states {
		m.HealthState.WithLabelValues(metric).Set(float64(s))
	}
	m.OverallState.Set(float64(overall))
}

// Predicted publishes a forecast.
func (m *Metrics) Predicted(p health.Prediction) {
	if m == nil || p.Err != nil {
		return
	}
	m.Forecast.WithLabelValues(p.Metric).Set(p.Predicted)
	m.ForecastConf.WithLabelValues(p.Metric).Set(p.Confidence)
}
