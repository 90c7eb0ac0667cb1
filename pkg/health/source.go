package health

import (
	"context"
	"maps"
	"time"
)

// Readings maps a metric name (e.g., "cpu", "memory") to its current value.
type Readings map[string]float64

// Clone returns an independent copy of the readings.
func (r Readings) Clone() Readings {
	if r == nil {
		return Readings{}
	}
	return maps.Clone(r)
}

// Source is the interface for any component providing metric readings.
// This is the Adapter Pattern interface: one implementation per cloud
// provider, local resource reader or remote metrics backend.
type Source interface {
	// Name identifies the source in samples, logs and alerts.
	Name() string

	// Poll retrieves the current readings. Implementations must honor ctx.
	Poll(ctx context.Context) (Readings, error)
}

// Sample is a timestamped snapshot of the readings of one source.
// It is immutable once created; use Readings to get a copy of the values.
type Sample struct {
	Source    string
	Timestamp time.Time
	readings  Readings
}

// NewSample creates a sample holding a private copy of readings.
func NewSample(source string, at time.Time, readings Readings) Sample {
	return Sample{
		Source:    source,
		Timestamp: at,
		readings:  readings.Clone(),
	}
}

// Readings returns a copy of the sample's values.
func (s Sample) Readings() Readings {
	return s.readings.Clone()
}

// Value returns a single reading.
func (s Sample) Value(metric string) (float64, bool) {
	v, ok := s.readings[metric]
	return v, ok
}

// Len is the number of readings in the sample.
func (s Sample) Len() int {
	return len(s.readings)
}
