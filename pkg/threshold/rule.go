package threshold

import (
	"errors"
	"fmt"

	"GoHealthMonitor/pkg/aggregate"
	"GoHealthMonitor/pkg/health"
)

// ErrInvalidRule is wrapped by every rule validation error.
var ErrInvalidRule = errors.New("invalid threshold rule")

// Rule configures the levels of one metric.
type Rule struct {
	Metric      string         `yaml:"metric"`
	Warn        float64        `yaml:"warn"`
	Critical    float64        `yaml:"critical"`
	Hysteresis  float64        `yaml:"hysteresis"`
	Consecutive int            `yaml:"consecutive"`
	Aggregate   aggregate.Mode `yaml:"aggregate"`
}

// Validate checks the level ordering and counters.
func (r Rule) Validate() error {
	switch {
	case r.Metric == "":
		return fmt.Errorf("%w: metric name is empty", ErrInvalidRule)
	case r.Warn >= r.Critical:
		return fmt.Errorf("%w: %s warn level %.2f must be below critical level %.2f", ErrInvalidRule, r.Metric, r.Warn, r.Critical)
	case r.Hysteresis < 0:
		return fmt.Errorf("%w: %s hysteresis must not be negative", ErrInvalidRule, r.Metric)
	case r.Consecutive < 1:
		return fmt.Errorf("%w: %s consecutive count must be at least 1", ErrInvalidRule, r.Metric)
	}
	if _, err := aggregate.ParseMode(string(r.Aggregate)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRule, r.Metric, err)
	}
	return nil
}

// Normalized returns r with its aggregation mode in canonical form.
// An unknown mode is kept as written so Validate still reports it.
func (r Rule) Normalized() Rule {
	if m, err := aggregate.ParseMode(string(r.Aggregate)); err == nil {
		r.Aggregate = m
	}
	return r
}

// Level is the state a value maps to without hysteresis.
func (r Rule) Level(value float64) health.State {
	switch {
	case value >= r.Critical:
		return health.Critical
	case value >= r.Warn:
		return health.Warning
	default:
		return health.Healthy
	}
}

type direction int

const (
	hold direction = iota
	up
	down
)

// next reports which way the value pushes the current state.
// Escalation triggers at the level; recovery must clear it by the hysteresis margin.
func (r Rule) next(cur health.State, value float64) direction {
	switch cur {
	case health.Healthy:
		if value >= r.Warn {
			return up
		}
	case health.Warning:
		if value >= r.Critical {
			return up
		}
		if value < r.Warn-r.Hysteresis {
			return down
		}
	case health.Critical:
		if value < r.Critical-r.Hysteresis {
			return down
		}
	}
	return hold
}
