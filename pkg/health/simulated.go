package health

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrSimulatedOutage is returned by a SimulatedSource when it drops a poll.
var ErrSimulatedOutage = errors.New("simulated provider outage")

// SimulatedSource simulates a provider reporting real-time load with random variance.
type SimulatedSource struct {
	name     string
	base     Readings
	variance float64
	// FailureRate is the probability (0..1) that a poll fails.
	FailureRate float64
	// Latency is added to every poll; the poll still honors ctx.
	Latency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSource creates a new instance around base values.
// variance is the maximum absolute deviation applied to each reading.
func NewSimulatedSource(name string, base Readings, variance float64, seed uint64) *SimulatedSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SimulatedSource{
		name:     name,
		base:     base.Clone(),
		variance: variance,
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Name implements Source.
func (s *SimulatedSource) Name() string { return s.name }

// Poll implements Source by generating synthetic data.
func (s *SimulatedSource) Poll(ctx context.Context) (Readings, error) {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailureRate > 0 && s.rng.Float64() < s.FailureRate {
		return nil, ErrSimulatedOutage
	}

	out := make(Readings, len(s.base))
	for metric, base := range s.base {
		v := base + (s.rng.Float64()*2-1)*s.variance

		// Apply bounds: usage percentages stay in 0..100
		if v < 0 {
			v = 0
		}
		if base <= 100 && v > 100 {
			v = 100
		}
		out[metric] = v
	}
	return out, nil
}
