package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"
)

// --- Default PromQL queries ---
const (
	// 5-minute average CPU utilization across all cores, 0-100
	CPUQuery = "100 * (1 - avg(rate(node_cpu_seconds_total{mode=\"idle\"}[5m])))"

	// Memory in use as a percentage of total
	MemoryQuery = "100 * (1 - avg(node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes))"

	// Root filesystem usage percentage
	DiskQuery = "100 * (1 - avg(node_filesystem_avail_bytes{mountpoint=\"/\"} / node_filesystem_size_bytes{mountpoint=\"/\"}))"

	// Request throughput in requests per second
	TrafficQuery = "sum(rate(http_requests_total[5m]))"
)

// DefaultQueries maps the engine's metric names to PromQL.
func DefaultQueries() map[string]string {
	return map[string]string{
		"cpu":     CPUQuery,
		"memory":  MemoryQuery,
		"disk":    DiskQuery,
		"traffic": TrafficQuery,
	}
}

// PrometheusSource implements the Source interface on top of a Prometheus server.
type PrometheusSource struct {
	name    string
	Client  v1.API // The Prometheus V1 API client
	Queries map[string]string
	Logger  logrus.FieldLogger
}

// NewPrometheusSource initializes the Prometheus client connection.
// An empty queries map selects DefaultQueries.
func NewPrometheusSource(name, promURL string, queries map[string]string) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: promURL,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Prometheus client: %w", err)
	}
	if len(queries) == 0 {
		queries = DefaultQueries()
	}

	return &PrometheusSource{
		name:    name,
		Client:  v1.NewAPI(client),
		Queries: queries,
		Logger:  logrus.StandardLogger(),
	}, nil
}

// Name implements Source.
func (p *PrometheusSource) Name() string { return p.name }

// Poll executes every configured PromQL query and converts the results into Readings.
// A query returning no data leaves its metric out; a query error fails the poll.
func (p *PrometheusSource) Poll(ctx context.Context) (Readings, error) {
	now := time.Now()
	out := make(Readings, len(p.Queries))

	for metric, query := range p.Queries {
		result, warnings, err := p.Client.Query(ctx, query, now)
		if err != nil {
			return nil, fmt.Errorf("prometheus query error for %s: %w", metric, err)
		}
		if len(warnings) > 0 {
			p.Logger.WithFields(logrus.Fields{
				"source":   p.name,
				"metric":   metric,
				"warnings": []string(warnings),
			}).Warn("prometheus query returned warnings")
		}

		if v, ok := extractScalar(result); ok {
			out[metric] = v
		}
	}
	return out, nil
}

// extractScalar reads the single value of an instant query result.
func extractScalar(result model.Value) (float64, bool) {
	switch v := result.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, false
		}
		return float64(v[0].Value), true
	case *model.Scalar:
		return float64(v.Value), true
	default:
		return 0, false
	}
}
