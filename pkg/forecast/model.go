package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInsufficientHistory is returned when a series is shorter than a model needs.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrDegenerateSeries is returned when all points share one timestamp.
	ErrDegenerateSeries = errors.New("degenerate series")
)

// Point is one observation of a metric.
type Point struct {
	At    time.Time
	Value float64
}

// Series is the ordered history of one metric, oldest first.
type Series struct {
	Metric string
	Points []Point
}

// Model predicts the value of a series at now+horizon.
// Confidence is in [0,100].
type Model interface {
	Name() string
	Predict(ctx context.Context, s Series, horizon time.Duration) (value, confidence float64, err error)
}

// LinearTrend fits a least-squares line over the last Window points.
type LinearTrend struct {
	Window int // 0 uses every point
}

// Name implements Model.
func (LinearTrend) Name() string { return "linear" }

// Predict implements Model. Confidence is the coefficient of determination scaled to 0..100.
func (m LinearTrend) Predict(ctx context.Context, s Series, horizon time.Duration) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	pts := s.Points
	if m.Window > 0 && len(pts) > m.Window {
		pts = pts[len(pts)-m.Window:]
	}
	n := float64(len(pts))
	if len(pts) < 2 {
		return 0, 0, fmt.Errorf("%w: linear trend needs 2 points, have %d", ErrInsufficientHistory, len(pts))
	}

	origin := pts[0].At
	var sx, sy float64
	for _, p := range pts {
		sx += p.At.Sub(origin).Seconds()
		sy += p.Value
	}
	mx, my := sx/n, sy/n

	var sxx, sxy, syy float64
	for _, p := range pts {
		dx := p.At.Sub(origin).Seconds() - mx
		dy := p.Value - my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, 0, ErrDegenerateSeries
	}

	slope := sxy / sxx
	intercept := my - slope*mx
	x := pts[len(pts)-1].At.Sub(origin).Seconds() + horizon.Seconds()
	predicted := intercept + slope*x

	if syy == 0 {
		// flat series fits perfectly
		return predicted, 100, nil
	}
	r2 := (sxy * sxy) / (sxx * syy)
	return predicted, clamp(r2*100, 0, 100), nil
}

// Holt is double exponential smoothing (level + trend).
type Holt struct {
	Alpha float64 // level smoothing, 0..1
	Beta  float64 // trend smoothing, 0..1
}

// Name implements Model.
func (Holt) Name() string { return "holt" }

// Predict implements Model. Confidence falls with the mean one-step error
// relative to the series magnitude.
func (m Holt) Predict(ctx context.Context, s Series, horizon time.Duration) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	pts := s.Points
	if len(pts) < 3 {
		return 0, 0, fmt.Errorf("%w: holt needs 3 points, have %d", ErrInsufficientHistory, len(pts))
	}
	span := pts[len(pts)-1].At.Sub(pts[0].At)
	if span <= 0 {
		return 0, 0, ErrDegenerateSeries
	}
	step := span / time.Duration(len(pts)-1)

	alpha, beta := m.Alpha, m.Beta
	if alpha <= 0 || alpha > 1 {
		alpha = 0.5
	}
	if beta <= 0 || beta > 1 {
		beta = 0.3
	}

	level := pts[0].Value
	trend := pts[1].Value - pts[0].Value
	var absErr, absVal float64
	for _, p := range pts[1:] {
		forecast := level + trend
		absErr += math.Abs(p.Value - forecast)
		absVal += math.Abs(p.Value)

		prevLevel := level
		level = alpha*p.Value + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	steps := float64(horizon) / float64(step)
	predicted := level + trend*steps

	if absVal == 0 {
		return predicted, 100, nil
	}
	rel := absErr / absVal
	return predicted, clamp(100*(1-rel), 0, 100), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
