// Package monitor drives the collect, aggregate, evaluate, forecast and
// dispatch cycle on a fixed cadence.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"GoHealthMonitor/pkg/aggregate"
	"GoHealthMonitor/pkg/alert"
	"GoHealthMonitor/pkg/collector"
	"GoHealthMonitor/pkg/forecast"
	"GoHealthMonitor/pkg/health"
	"GoHealthMonitor/pkg/telemetry"
	"GoHealthMonitor/pkg/threshold"
)

const (
	stageDispatch = "dispatch"
	stageForecast = "forecast"
)

// Components are the collaborators one cycle runs through.
// Forecaster, History and Metrics are optional.
type Components struct {
	Sources    []health.Source
	Collector  *collector.Collector
	Aggregator *aggregate.Aggregator
	Evaluator  *threshold.Evaluator
	Forecaster *forecast.Stage
	History    *forecast.History
	Dispatcher *alert.Dispatcher
	Metrics    *telemetry.Metrics
}

// Options control the cadence and time bounds of cycles.
type Options struct {
	Interval time.Duration
	// GracePeriod bounds the parallel forecast and dispatch stages.
	// Stages still running past it are cancelled and abandoned. Zero waits.
	GracePeriod time.Duration
	// HardDeadline bounds a whole cycle. Zero means no bound.
	HardDeadline time.Duration
}

// Report summarizes one cycle.
type Report struct {
	Seq         uint64
	Started     time.Time
	Duration    time.Duration
	Samples     int
	Failures    []*collector.SourceError
	View        *aggregate.View
	Overall     health.State
	States      map[string]health.State
	Held        []string
	Alerts      []health.Alert // transitions first, then predictive alerts
	Predictions []health.Prediction
	Deliveries  []alert.Delivery
	Abandoned   []string // stages cut off by the grace period or deadline
	Err         error    // set when a cycle panicked
}

// Loop runs monitoring cycles. Cycles never overlap.
type Loop struct {
	c      Components
	opts   Options
	logger logrus.FieldLogger
	now    func() time.Time

	// OnCycle, when set, receives every report. It runs on the cycle's
	// goroutine, under the cycle lock.
	OnCycle func(Report)

	cycleMu sync.Mutex
	prev    *aggregate.View
	seq     uint64
}

// New creates a loop. A forecaster without a history gets a 64-view one.
func New(c Components, opts Options, logger logrus.FieldLogger) (*Loop, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive, got %s", opts.Interval)
	}
	if c.Collector == nil || c.Aggregator == nil || c.Evaluator == nil || c.Dispatcher == nil {
		return nil, fmt.Errorf("monitor needs a collector, aggregator, evaluator and dispatcher")
	}
	if c.Forecaster != nil && c.History == nil {
		c.History = forecast.NewHistory(64)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{c: c, opts: opts, logger: logger, now: time.Now}, nil
}

// WithClock replaces the view timestamp source; used by tests.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	return l
}

// Interval is the configured cadence.
func (l *Loop) Interval() time.Duration { return l.opts.Interval }

// Evaluator exposes the state owner for status queries.
func (l *Loop) Evaluator() *threshold.Evaluator { return l.c.Evaluator }

// Run executes a cycle immediately and then on every tick until ctx is done.
// Cancellation is observed between cycles only; a running cycle completes.
// A cycle that outlasts the interval swallows the ticks it overran.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	l.logger.WithFields(logrus.Fields{
		"interval": l.opts.Interval,
		"sources":  len(l.c.Sources),
	}).Info("health monitor started")

	for {
		if ctx.Err() != nil {
			break
		}
		rep := l.RunCycle(ctx)

		if rep.Duration > l.opts.Interval {
			missed := int(rep.Duration / l.opts.Interval)
			for range missed {
				l.c.Metrics.TriggerSkipped()
			}
			select {
			case <-ticker.C:
			default:
			}
			l.logger.WithFields(logrus.Fields{
				"cycle":    rep.Seq,
				"duration": rep.Duration,
				"skipped":  missed,
			}).Warn("cycle overran the interval, skipping ticks")
		}

		l.logger.WithField("cycle", rep.Seq).Debugf("next check in %s", l.opts.Interval)
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	l.logger.Info("health monitor stopped")
	return nil
}

// RunCycle executes exactly one cycle. A concurrent call waits for the
// running cycle to finish. The cycle ignores cancellation of ctx and is
// bounded by the hard deadline instead.
func (l *Loop) RunCycle(ctx context.Context) (rep Report) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	cctx := context.WithoutCancel(ctx)
	if l.opts.HardDeadline > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, l.opts.HardDeadline)
		defer cancel()
	}

	l.seq++
	rep.Seq = l.seq
	rep.Started = time.Now()
	log := l.logger.WithField("cycle", rep.Seq)

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("cycle panicked: %v", r)
			log.WithError(rep.Err).Error("monitoring cycle aborted")
		}
		rep.Duration = time.Since(rep.Started)
		l.c.Metrics.CycleDone(rep.Duration)
		if l.OnCycle != nil {
			l.OnCycle(rep)
		}
	}()

	res := l.c.Collector.Collect(cctx, l.c.Sources)
	rep.Samples, rep.Failures = len(res.Samples), res.Failures

	failed := make(map[string]error, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.Source] = f
		l.c.Metrics.SourceFailed(f.Source)
	}

	view := l.c.Aggregator.Aggregate(l.now(), res.Samples, failed, l.prev)
	l.prev = view
	rep.View = view
	if l.c.History != nil {
		l.c.History.Push(view)
	}

	eval := l.c.Evaluator.Evaluate(view)
	rep.States, rep.Overall, rep.Held = eval.States, eval.Overall, eval.Held
	rep.Alerts = eval.Alerts
	l.c.Metrics.States(eval.States, eval.Overall)
	for _, a := range eval.Alerts {
		l.c.Metrics.AlertRaised(a)
	}

	l.runStages(cctx, eval, &rep)

	log.WithFields(logrus.Fields{
		"samples":  rep.Samples,
		"failures": len(rep.Failures),
		"alerts":   len(rep.Alerts),
		"overall":  rep.Overall,
	}).Debug("cycle complete")
	return rep
}

type forecastOutcome struct {
	predictions []health.Prediction
	alerts      []health.Alert
	deliveries  []alert.Delivery
}

// runStages runs transition dispatch and forecasting side by side and joins
// them within the grace period.
func (l *Loop) runStages(ctx context.Context, eval threshold.Result, rep *Report) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatched := make(chan []alert.Delivery, 1)
	runStage(l, stageDispatch, dispatched, func() []alert.Delivery {
		return l.c.Dispatcher.DispatchAll(sctx, eval.Alerts)
	})

	var forecasted chan forecastOutcome
	if l.c.Forecaster != nil {
		forecasted = make(chan forecastOutcome, 1)
		history, at := l.c.History.Snapshot(), rep.View.Timestamp
		runStage(l, stageForecast, forecasted, func() forecastOutcome {
			var out forecastOutcome
			out.predictions = l.c.Forecaster.Forecast(sctx, history, l.c.Forecaster.Horizon())
			out.alerts = l.c.Forecaster.PredictiveAlerts(out.predictions, eval.States, at)
			out.deliveries = l.c.Dispatcher.DispatchAll(sctx, out.alerts)
			return out
		})
	}

	var grace <-chan time.Time
	if l.opts.GracePeriod > 0 {
		t := time.NewTimer(l.opts.GracePeriod)
		defer t.Stop()
		grace = t.C
	}

	var (
		transitions []alert.Delivery
		fc          forecastOutcome
		dispatchOK  bool
		forecastOK  = forecasted == nil
	)
	for !dispatchOK || !forecastOK {
		select {
		case transitions = <-dispatched:
			dispatchOK, dispatched = true, nil
		case fc = <-forecasted:
			forecastOK, forecasted = true, nil
		case <-grace:
			cancel()
			l.abandon(rep, dispatchOK, forecastOK)
			dispatchOK, forecastOK = true, true
		case <-ctx.Done():
			l.abandon(rep, dispatchOK, forecastOK)
			dispatchOK, forecastOK = true, true
		}
	}

	rep.Deliveries = append(transitions, fc.deliveries...)
	rep.Predictions = fc.predictions
	rep.Alerts = append(rep.Alerts, fc.alerts...)

	for _, p := range fc.predictions {
		l.c.Metrics.Predicted(p)
	}
	for _, a := range fc.alerts {
		l.c.Metrics.AlertRaised(a)
	}
	for _, d := range rep.Deliveries {
		if d.Suppressed {
			l.c.Metrics.AlertSuppressed()
			continue
		}
		for _, o := range d.Outcomes {
			l.c.Metrics.Delivered(o.Sink, o.Err)
		}
	}
}

func (l *Loop) abandon(rep *Report, dispatchOK, forecastOK bool) {
	var stages []string
	if !dispatchOK {
		stages = append(stages, stageDispatch)
	}
	if !forecastOK {
		stages = append(stages, stageForecast)
	}
	for _, stage := range stages {
		rep.Abandoned = append(rep.Abandoned, stage)
		l.c.Metrics.StageAbandoned(stage)
		l.logger.WithFields(logrus.Fields{
			"cycle": rep.Seq,
			"stage": stage,
		}).Warn("stage exceeded its grace period and was abandoned")
	}
}

// runStage runs fn in its own goroutine and always sends one value on out,
// the zero value if fn panicked. out must be buffered.
func runStage[T any](l *Loop, name string, out chan<- T, fn func() T) {
	go func() {
		var v T
		defer func() {
			if r := recover(); r != nil {
				l.logger.WithField("stage", name).Errorf("stage panicked: %v", r)
			}
			out <- v
		}()
		v = fn()
	}()
}
