// Package aggregate merges the samples of many sources into one View,
// carrying last-known values forward for a bounded staleness window.
package aggregate

import (
	"cmp"
	"errors"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"GoHealthMonitor/pkg/health"
)

// ErrNoSample is recorded for a known source that neither answered nor failed.
var ErrNoSample = errors.New("no sample this cycle")

// Aggregator builds views. It holds configuration only.
type Aggregator struct {
	Staleness time.Duration
}

// New creates an aggregator with the given staleness window.
func New(staleness time.Duration) *Aggregator {
	return &Aggregator{Staleness: staleness}
}

// Aggregate merges this cycle's samples with what prev knew.
// failed maps source names to their collection error.
// The result depends only on the arguments.
func (a *Aggregator) Aggregate(now time.Time, samples []health.Sample, failed map[string]error, prev *View) *View {
	v := &View{
		Timestamp: now,
		metrics:   make(map[string]Stats),
		sources:   make(map[string]SourceView, len(samples)),
		samples:   make(map[string]health.Sample, len(samples)),
	}

	for _, s := range samples {
		entries := make(map[string]Entry, s.Len())
		for metric, value := range s.Readings() {
			entries[metric] = Entry{Value: value, LastSeen: s.Timestamp, Status: Fresh}
		}
		v.sources[s.Source] = SourceView{Readings: entries}
		v.samples[s.Source] = s
	}

	// carry forward what the previous view knew but this cycle did not report
	if prev != nil {
		for name, old := range prev.sources {
			cur, answered := v.sources[name]
			if !answered {
				cur = SourceView{Readings: make(map[string]Entry, len(old.Readings))}
				cur.Err = failed[name]
				if cur.Err == nil {
					cur.Err = ErrNoSample
				}
			}
			for metric, e := range old.Readings {
				if _, ok := cur.Readings[metric]; ok {
					continue
				}
				cur.Readings[metric] = a.age(now, e)
			}
			v.sources[name] = cur
		}
	}

	for name, err := range failed {
		if _, ok := v.sources[name]; !ok {
			v.sources[name] = SourceView{Readings: map[string]Entry{}, Err: err}
		}
	}

	v.metrics = summarize(v.sources)
	v.failures = collectFailures(v.sources)
	return v
}

// age downgrades a carried entry: stale within the window, missing beyond it.
func (a *Aggregator) age(now time.Time, e Entry) Entry {
	if e.Status == Missing {
		return e
	}
	if now.Sub(e.LastSeen) > a.Staleness {
		e.Status = Missing
		return e
	}
	e.Status = Stale
	return e
}

func summarize(sources map[string]SourceView) map[string]Stats {
	out := make(map[string]Stats)
	sum := make(map[string]float64)

	// sorted iteration keeps MinSource/MaxSource deterministic on ties
	for _, source := range slices.Sorted(maps.Keys(sources)) {
		for metric, e := range sources[source].Readings {
			st, seen := out[metric]
			if !seen {
				st = Stats{Status: Missing}
			}
			if e.Status == Missing {
				out[metric] = st
				continue
			}

			if st.Count == 0 {
				st.Min, st.Max = math.Inf(1), math.Inf(-1)
			}
			if e.Value < st.Min {
				st.Min, st.MinSource = e.Value, source
			}
			if e.Value > st.Max {
				st.Max, st.MaxSource = e.Value, source
			}
			st.Count++
			sum[metric] += e.Value

			switch {
			case e.Status == Fresh:
				st.Status = Fresh
			case e.Status == Stale:
				st.Stale++
				if st.Status == Missing {
					st.Status = Stale
				}
			}
			out[metric] = st
		}
	}

	for metric, st := range out {
		if st.Count > 0 {
			st.Mean = sum[metric] / float64(st.Count)
			out[metric] = st
		}
	}
	return out
}

func collectFailures(sources map[string]SourceView) []Failure {
	var out []Failure
	for name, sv := range sources {
		if sv.Err != nil && len(sv.Readings) == 0 {
			out = append(out, Failure{Source: name, Err: sv.Err})
		}
		for metric, e := range sv.Readings {
			if e.Status == Missing {
				out = append(out, Failure{Source: name, Metric: metric, LastSeen: e.LastSeen, Err: sv.Err})
			}
		}
	}
	slices.SortFunc(out, func(a, b Failure) int {
		return cmp.Or(strings.Compare(a.Source, b.Source), strings.Compare(a.Metric, b.Metric))
	})
	return out
}
