// Package collector polls metric sources concurrently and normalizes their
// readings into samples. A failing or slow source never blocks the others.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"GoHealthMonitor/pkg/health"
)

// ErrSourceTimeout is wrapped by SourceError when a poll exceeds its timeout.
var ErrSourceTimeout = errors.New("source timed out")

// SourceError reports a source that produced no sample in a cycle.
type SourceError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s failed after %d attempt(s): %v", e.Source, e.Attempts, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Timeout reports whether the last attempt timed out.
func (e *SourceError) Timeout() bool { return errors.Is(e.Err, ErrSourceTimeout) }

// Config bounds how long a single source may take.
type Config struct {
	Timeout  time.Duration // per attempt
	Attempts int           // total attempts per cycle, at least 1
	Backoff  time.Duration // pause between attempts
}

// Result is the outcome of one collection pass.
type Result struct {
	Samples  []health.Sample
	Failures []*SourceError
}

// Collector polls sources with bounded time.
type Collector struct {
	cfg    Config
	now    func() time.Time
	logger logrus.FieldLogger
}

// New creates a collector. A nil logger uses the logrus standard logger.
func New(cfg Config, logger logrus.FieldLogger) *Collector {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{cfg: cfg, now: time.Now, logger: logger}
}

// WithClock replaces the timestamp source; used by tests.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Budget is the longest time Collect may take for one source.
func (c *Collector) Budget() time.Duration {
	return c.cfg.Timeout*time.Duration(c.cfg.Attempts) + c.cfg.Backoff*time.Duration(c.cfg.Attempts-1)
}

// Collect polls every source concurrently. Samples keep the order of sources;
// failed sources are reported in Failures, sorted by name, and contribute no sample.
func (c *Collector) Collect(ctx context.Context, sources []health.Source) Result {
	samples := make([]*health.Sample, len(sources))
	var (
		mu       sync.Mutex
		failures []*SourceError
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			readings, attempts, err := c.pollWithRetry(gctx, src)
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"source":   src.Name(),
					"attempts": attempts,
				}).WithError(err).Warn("source produced no sample")

				mu.Lock()
				failures = append(failures, &SourceError{Source: src.Name(), Attempts: attempts, Err: err})
				mu.Unlock()
				return nil
			}
			s := health.NewSample(src.Name(), c.now(), normalize(readings))
			samples[i] = &s
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(failures, func(a, b *SourceError) int { return strings.Compare(a.Source, b.Source) })

	res := Result{Failures: failures}
	for _, s := range samples {
		if s != nil {
			res.Samples = append(res.Samples, *s)
		}
	}
	return res
}

func (c *Collector) pollWithRetry(ctx context.Context, src health.Source) (health.Readings, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		readings, err := c.pollOnce(ctx, src)
		if err == nil {
			return readings, attempt, nil
		}
		lastErr = err

		if attempt == c.cfg.Attempts {
			return nil, attempt, lastErr
		}
		select {
		case <-time.After(c.cfg.Backoff):
		case <-ctx.Done():
			return nil, attempt, lastErr
		}
	}
	return nil, c.cfg.Attempts, lastErr
}

type pollResult struct {
	readings health.Readings
	err      error
}

// pollOnce runs Poll in its own goroutine so a source ignoring its context
// is abandoned at the deadline; the late result lands in a buffered channel.
func (c *Collector) pollOnce(ctx context.Context, src health.Source) (health.Readings, error) {
	pctx := ctx
	cancel := context.CancelFunc(func() {})
	if c.cfg.Timeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	defer cancel()

	done := make(chan pollResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- pollResult{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		readings, err := src.Poll(pctx)
		done <- pollResult{readings: readings, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceTimeout, res.err)
		}
		return res.readings, res.err
	case <-pctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrSourceTimeout, c.cfg.Timeout)
	}
}

// normalize lower-cases metric names and drops values that cannot be aggregated.
func normalize(in health.Readings) health.Readings {
	out := make(health.Readings, len(in))
	for name, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out[name] = v
	}
	return out
}
