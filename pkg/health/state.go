package health

import (
	"fmt"
	"strings"
	"time"
)

// State is the health level of a metric or of the whole system.
// Levels are ordered: a larger value is more severe.
type State int

const (
	Healthy State = iota
	Warning
	Critical
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name so alerts serialize readably.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name, case-insensitively.
func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "HEALTHY":
		*s = Healthy
	case "WARNING":
		*s = Warning
	case "CRITICAL":
		*s = Critical
	default:
		return fmt.Errorf("unknown health state %q", text)
	}
	return nil
}

// Max returns the most severe of the given states, Healthy if none.
func Max(states ...State) State {
	worst := Healthy
	for _, s := range states {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// AlertKind distinguishes detected transitions from forecast-based warnings.
type AlertKind string

const (
	KindTransition AlertKind = "transition"
	KindPredictive AlertKind = "predictive"
)

// Prediction is the forecast of one metric at a future horizon.
type Prediction struct {
	Metric     string        `json:"metric"`
	Predicted  float64       `json:"predicted"`
	Confidence float64       `json:"confidence"` // 0..100
	Horizon    time.Duration `json:"horizon"`
	Samples    int           `json:"samples"`
	Err        error         `json:"-"`
}

// Alert records a state change of one metric.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Metric    string    `json:"metric"`
	Previous  State     `json:"previous"`
	Current   State     `json:"current"`
	Timestamp time.Time `json:"timestamp"`

	// Value is the evaluated reading (or the predicted value for predictive alerts).
	Value float64 `json:"value"`
	// Source is the source whose reading was evaluated, empty for mean aggregation.
	Source string `json:"source,omitempty"`
	// Sample is the sample that triggered the transition, if attributable.
	Sample *Sample `json:"-"`
	// Forecast is set on predictive alerts.
	Forecast *Prediction `json:"forecast,omitempty"`
}

// Key identifies the alert for delivery-level deduplication.
func (a Alert) Key() string {
	return a.Metric + "|" + a.Current.String() + "|" + string(a.Kind)
}

// Escalation reports whether the alert moves towards a more severe state.
func (a Alert) Escalation() bool {
	return a.Current > a.Previous
}

func (a Alert) String() string {
	if a.Kind == KindPredictive && a.Forecast != nil {
		return fmt.Sprintf("predictive %s: %s expected to reach %.2f in %s (confidence %.0f%%)",
			a.Current, a.Metric, a.Value, a.Forecast.Horizon, a.Forecast.Confidence)
	}
	return fmt.Sprintf("%s: %s -> %s (value %.2f)", a.Metric, a.Previous, a.Current, a.Value)
}
