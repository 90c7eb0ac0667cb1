// Package threshold turns aggregated views into per-metric health states.
// The Evaluator is the only owner of health state across cycles.
package threshold

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"GoHealthMonitor/pkg/aggregate"
	"GoHealthMonitor/pkg/health"
)

// record is the mutable state of one metric.
type record struct {
	state   health.State
	pending direction
	streak  int
}

// Result is the outcome of one evaluation.
type Result struct {
	Alerts  []health.Alert
	States  map[string]health.State
	Overall health.State
	// Held lists metrics that kept their state because no fresh value was available.
	Held []string
}

// Evaluator applies rules with hysteresis and consecutive-breach counting.
type Evaluator struct {
	mu      sync.Mutex
	rules   []Rule
	records map[string]*record
	newID   func() string
	logger  logrus.FieldLogger
}

// NewEvaluator creates an evaluator with every metric starting HEALTHY.
// Rules are expected to be validated.
func NewEvaluator(rules []Rule, logger logrus.FieldLogger) *Evaluator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sorted := slices.Clone(rules)
	slices.SortFunc(sorted, func(a, b Rule) int { return strings.Compare(a.Metric, b.Metric) })

	records := make(map[string]*record, len(sorted))
	for i := range sorted {
		sorted[i] = sorted[i].Normalized()
		if sorted[i].Consecutive < 1 {
			sorted[i].Consecutive = 1
		}
		records[sorted[i].Metric] = &record{}
	}
	return &Evaluator{
		rules:   sorted,
		records: records,
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// Evaluate advances every metric by at most one level and returns an alert
// for each transition. Metrics without a fresh value keep their state and
// restart their streak.
func (e *Evaluator) Evaluate(v *aggregate.View) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	for _, rule := range e.rules {
		rec := e.records[rule.Metric]

		st, ok := v.Metric(rule.Metric)
		if !ok || st.Status != aggregate.Fresh {
			rec.pending, rec.streak = hold, 0
			res.Held = append(res.Held, rule.Metric)
			continue
		}

		value, source := st.Pick(rule.Aggregate)
		dir := rule.next(rec.state, value)
		switch {
		case dir == hold:
			rec.pending, rec.streak = hold, 0
			continue
		case dir != rec.pending:
			rec.pending, rec.streak = dir, 1
		default:
			rec.streak++
		}
		if rec.streak < rule.Consecutive {
			continue
		}

		prev := rec.state
		if dir == up {
			rec.state++
		} else {
			rec.state--
		}
		rec.pending, rec.streak = hold, 0

		alert := health.Alert{
			ID:        e.newID(),
			Kind:      health.KindTransition,
			Metric:    rule.Metric,
			Previous:  prev,
			Current:   rec.state,
			Timestamp: v.Timestamp,
			Value:     value,
			Source:    source,
		}
		if source != "" {
			if s, ok := v.Sample(source); ok {
				alert.Sample = &s
			}
		}
		res.Alerts = append(res.Alerts, alert)

		e.logger.WithFields(logrus.Fields{
			"metric": rule.Metric,
			"from":   prev,
			"to":     rec.state,
			"value":  value,
			"source": source,
		}).Info("health state changed")
	}

	res.States = e.snapshot()
	res.Overall = health.Max(slices.Collect(maps.Values(res.States))...)
	return res
}

// States returns a copy of the current per-metric states.
func (e *Evaluator) States() map[string]health.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Overall is the most severe metric state.
func (e *Evaluator) Overall() health.State {
	return health.Max(slices.Collect(maps.Values(e.States()))...)
}

func (e *Evaluator) snapshot() map[string]health.State {
	out := make(map[string]health.State, len(e.records))
	for metric, rec := range e.records {
		out[metric] = rec.state
	}
	return out
}
