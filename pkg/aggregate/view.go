package aggregate

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"GoHealthMonitor/pkg/health"
)

// Status tells whether a value was observed in the current cycle.
type Status int

const (
	Fresh Status = iota
	Stale
	Missing
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "FRESH"
	case Stale:
		return "STALE"
	case Missing:
		return "MISSING"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Mode selects which cross-source statistic represents a metric.
type Mode string

const (
	ModeMax  Mode = "max"
	ModeMean Mode = "mean"
	ModeMin  Mode = "min"
)

// ParseMode accepts max, mean or min; empty means max.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModeMax, nil
	case ModeMax, ModeMean, ModeMin:
		return m, nil
	default:
		return "", fmt.Errorf("unknown aggregation mode %q", s)
	}
}

// Entry is one source's value for one metric.
type Entry struct {
	Value    float64
	LastSeen time.Time
	Status   Status
}

// SourceView holds the raw readings of one source.
type SourceView struct {
	Readings map[string]Entry
	// Err is the collection error of this cycle, nil when the source answered.
	Err error
}

// Stats summarizes one metric across sources. Missing entries are excluded.
type Stats struct {
	Min, Max, Mean       float64
	MinSource, MaxSource string
	Count                int // contributing sources (fresh + stale)
	Stale                int // contributing sources that are stale
	Status               Status
}

// Pick returns the statistic selected by mode and the source it came from.
func (s Stats) Pick(mode Mode) (float64, string) {
	switch mode {
	case ModeMean:
		return s.Mean, ""
	case ModeMin:
		return s.Min, s.MinSource
	default:
		return s.Max, s.MaxSource
	}
}

// Failure records a source or a metric that has no usable value.
// Metric is empty when a source failed before ever reporting.
type Failure struct {
	Source   string
	Metric   string
	LastSeen time.Time
	Err      error
}

// View is the merged picture of all sources for one cycle.
// It is never mutated after Aggregate returns it.
type View struct {
	Timestamp time.Time
	metrics   map[string]Stats
	sources   map[string]SourceView
	samples   map[string]health.Sample
	failures  []Failure
}

// Metric returns the statistics of one metric.
func (v *View) Metric(name string) (Stats, bool) {
	if v == nil {
		return Stats{}, false
	}
	s, ok := v.metrics[name]
	return s, ok
}

// Metrics returns a copy of all metric statistics.
func (v *View) Metrics() map[string]Stats {
	if v == nil {
		return nil
	}
	return maps.Clone(v.metrics)
}

// MetricNames lists metrics in sorted order.
func (v *View) MetricNames() []string {
	if v == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(v.metrics))
}

// Source returns the raw readings of one source; the entry map is a copy.
func (v *View) Source(name string) (SourceView, bool) {
	if v == nil {
		return SourceView{}, false
	}
	sv, ok := v.sources[name]
	if !ok {
		return SourceView{}, false
	}
	return SourceView{Readings: maps.Clone(sv.Readings), Err: sv.Err}, true
}

// SourceNames lists sources in sorted order.
func (v *View) SourceNames() []string {
	if v == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(v.sources))
}

// Sample returns the sample a source delivered in this cycle.
func (v *View) Sample(source string) (health.Sample, bool) {
	if v == nil {
		return health.Sample{}, false
	}
	s, ok := v.samples[source]
	return s, ok
}

// Failures lists missing metrics and failed sources.
func (v *View) Failures() []Failure {
	if v == nil {
		return nil
	}
	return slices.Clone(v.failures)
}
