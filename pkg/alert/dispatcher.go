// Package alert routes health alerts to notification sinks with
// delivery-level deduplication, per-sink retries and throttling.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"GoHealthMonitor/pkg/health"
)

// ErrDeliveryFailed is matched by every DeliveryError.
var ErrDeliveryFailed = errors.New("alert delivery failed")

// DeliveryError reports a sink that rejected an alert on every attempt.
type DeliveryError struct {
	Sink     string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sink %s failed after %d attempt(s): %v", e.Sink, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDeliveryFailed) hold.
func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// Outcome is the result of delivering one alert to one sink.
type Outcome struct {
	Sink     string
	Attempts int
	Duration time.Duration
	Err      error // nil on success, *DeliveryError otherwise
}

// Delivery is the result of dispatching one alert.
type Delivery struct {
	Alert      health.Alert
	Suppressed bool // duplicate within the cooldown, no sink was called
	Outcomes   []Outcome
}

// Failed lists the outcomes that did not succeed.
func (d Delivery) Failed() []Outcome {
	var out []Outcome
	for _, o := range d.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Config tunes the dispatcher.
type Config struct {
	Cooldown time.Duration
	Backoff  Backoff
}

type route struct {
	sink     Sink
	throttle *Throttle
}

// Dispatcher fans alerts out to sinks.
type Dispatcher struct {
	cfg    Config
	store  DedupStore
	routes []route
	logger logrus.FieldLogger
}

// NewDispatcher creates a dispatcher. A nil store selects a MemoryDedup.
func NewDispatcher(cfg Config, store DedupStore, logger logrus.FieldLogger) *Dispatcher {
	if store == nil {
		store = NewMemoryDedup()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{cfg: cfg, store: store, logger: logger}
}

// AddSink registers a sink; throttle may be nil.
func (d *Dispatcher) AddSink(s Sink, throttle *Throttle) {
	d.routes = append(d.routes, route{sink: s, throttle: throttle})
}

// Sinks lists registered sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.routes))
	for i, r := range d.routes {
		names[i] = r.sink.Name()
	}
	return names
}

// Dispatch delivers a to every sink unless the same metric+state+kind was
// dispatched within the cooldown. Sinks are independent: one slow or failing
// sink does not hold back the others. Failures are logged, never re-alerted.
func (d *Dispatcher) Dispatch(ctx context.Context, a health.Alert) Delivery {
	log := d.logger.WithFields(logrus.Fields{"alert_id": a.ID, "key": a.Key()})

	fresh, err := d.store.Claim(ctx, a.Key(), d.cfg.Cooldown)
	if err != nil {
		// fail open: a lost dedup store must not silence alerts
		log.WithError(err).Warn("dedup store unavailable, dispatching anyway")
		fresh = true
	}
	if !fresh {
		log.Debug("duplicate alert suppressed")
		return Delivery{Alert: a, Suppressed: true}
	}

	outcomes := make([]Outcome, len(d.routes))
	var wg sync.WaitGroup
	for i, r := range d.routes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.deliver(ctx, r, a)
		}()
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			log.WithFields(logrus.Fields{
				"sink":     o.Sink,
				"attempts": o.Attempts,
			}).WithError(o.Err).Error("alert dispatch failed")
		}
	}
	return Delivery{Alert: a, Outcomes: outcomes}
}

// DispatchAll dispatches alerts in order.
func (d *Dispatcher) DispatchAll(ctx context.Context, alerts []health.Alert) []Delivery {
	out := make([]Delivery, 0, len(alerts))
	for _, a := range alerts {
		if ctx.Err() != nil {
			break
		}
		out = append(out, d.Dispatch(ctx, a))
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, r route, a health.Alert) Outcome {
	start := time.Now()
	attempts, err := retry(ctx, d.cfg.Backoff, func(int) error {
		if r.throttle != nil {
			if err := r.throttle.Wait(ctx); err != nil {
				return err
			}
		}
		return safeDeliver(ctx, r.sink, a)
	})

	o := Outcome{Sink: r.sink.Name(), Attempts: attempts, Duration: time.Since(start)}
	if err != nil {
		o.Err = &DeliveryError{Sink: r.sink.Name(), Attempts: attempts, Err: err}
	}
	return o
}

func safeDeliver(ctx context.Context, s Sink, a health.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Deliver(ctx, a)
}
