// Package forecast predicts future metric values from a bounded history of
// aggregated views. Any failure degrades to a zero-confidence prediction.
package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"GoHealthMonitor/pkg/aggregate"
	"GoHealthMonitor/pkg/health"
	"GoHealthMonitor/pkg/threshold"
)

// Config tunes the forecast stage.
type Config struct {
	Horizon       time.Duration
	MinHistory    int     // fewer fresh points yield confidence 0
	MinConfidence float64 // predictive alerts need at least this confidence
}

// Stage runs a Model for every tracked metric.
type Stage struct {
	model  Model
	cfg    Config
	rules  []threshold.Rule
	logger logrus.FieldLogger
}

// NewStage creates a forecast stage tracking the metrics named by rules.
func NewStage(model Model, cfg Config, rules []threshold.Rule, logger logrus.FieldLogger) *Stage {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MinHistory < 1 {
		cfg.MinHistory = 1
	}
	tracked := make([]threshold.Rule, len(rules))
	for i, r := range rules {
		tracked[i] = r.Normalized()
	}
	return &Stage{model: model, cfg: cfg, rules: tracked, logger: logger}
}

// Horizon is the configured prediction distance.
func (s *Stage) Horizon() time.Duration { return s.cfg.Horizon }

// Forecast returns one prediction per tracked metric. It never fails:
// short histories, model errors and model panics all yield confidence 0.
func (s *Stage) Forecast(ctx context.Context, history []*aggregate.View, horizon time.Duration) []health.Prediction {
	out := make([]health.Prediction, 0, len(s.rules))
	for _, rule := range s.rules {
		series := seriesOf(rule, history)
		p := health.Prediction{Metric: rule.Metric, Horizon: horizon, Samples: len(series.Points)}

		if len(series.Points) < s.cfg.MinHistory {
			p.Err = fmt.Errorf("%w: %s has %d of %d points", ErrInsufficientHistory, rule.Metric, len(series.Points), s.cfg.MinHistory)
			out = append(out, p)
			continue
		}

		value, conf, err := s.predict(ctx, series, horizon)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"metric": rule.Metric,
				"model":  s.model.Name(),
			}).WithError(err).Debug("forecast degraded")
			p.Err = err
			out = append(out, p)
			continue
		}
		p.Predicted, p.Confidence = value, clamp(conf, 0, 100)
		out = append(out, p)
	}
	return out
}

func (s *Stage) predict(ctx context.Context, series Series, horizon time.Duration) (value, conf float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, conf, err = 0, 0, fmt.Errorf("model %s panicked: %v", s.model.Name(), r)
		}
	}()
	return s.model.Predict(ctx, series, horizon)
}

// PredictiveAlerts turns confident predictions that cross a rule's level
// into predictive alerts. current is the evaluator's state snapshot; a
// prediction at or below the current state raises nothing.
func (s *Stage) PredictiveAlerts(preds []health.Prediction, current map[string]health.State, at time.Time) []health.Alert {
	var out []health.Alert
	for _, p := range preds {
		if p.Err != nil || p.Confidence <= 0 || p.Confidence < s.cfg.MinConfidence {
			continue
		}
		rule, ok := s.rule(p.Metric)
		if !ok {
			continue
		}
		level := rule.Level(p.Predicted)
		if level == health.Healthy || level <= current[p.Metric] {
			continue
		}
		pred := p
		out = append(out, health.Alert{
			ID:        uuid.NewString(),
			Kind:      health.KindPredictive,
			Metric:    p.Metric,
			Previous:  current[p.Metric],
			Current:   level,
			Timestamp: at,
			Value:     p.Predicted,
			Forecast:  &pred,
		})
	}
	return out
}

func (s *Stage) rule(metric string) (threshold.Rule, bool) {
	for _, r := range s.rules {
		if r.Metric == metric {
			return r, true
		}
	}
	return threshold.Rule{}, false
}

// seriesOf extracts the fresh values of rule.Metric, using the rule's aggregation.
func seriesOf(rule threshold.Rule, history []*aggregate.View) Series {
	s := Series{Metric: rule.Metric}
	for _, v := range history {
		st, ok := v.Metric(rule.Metric)
		if !ok || st.Status != aggregate.Fresh {
			continue
		}
		value, _ := st.Pick(rule.Aggregate)
		s.Points = append(s.Points, Point{At: v.Timestamp, Value: value})
	}
	return s
}
