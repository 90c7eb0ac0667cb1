package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"GoHealthMonitor/pkg/health"
)

// Sink delivers an alert to one notification channel.
type Sink interface {
	// Name identifies the sink in outcomes and logs.
	Name() string

	// Deliver sends the alert. A nil error means the channel accepted it.
	Deliver(ctx context.Context, a health.Alert) error
}

// LogSink writes alerts to a logrus logger.
type LogSink struct {
	Logger logrus.FieldLogger
}

// NewLogSink creates a sink on logger, or the standard logger if nil.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{Logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, a health.Alert) error {
	entry := s.Logger.WithFields(logrus.Fields{
		"alert_id": a.ID,
		"kind":     a.Kind,
		"metric":   a.Metric,
		"previous": a.Previous,
		"current":  a.Current,
		"value":    a.Value,
	})
	switch {
	case a.Kind == health.KindPredictive:
		entry.Warn("PREDICTIVE ALERT: " + a.String())
	case a.Current == health.Critical:
		entry.Error("ALERT: " + a.String())
	case a.Escalation():
		entry.Warn("ALERT: " + a.String())
	default:
		entry.Info("RECOVERED: " + a.String())
	}
	return nil
}

// WebhookSink POSTs alerts as JSON.
type WebhookSink struct {
	URL     string
	Headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink with a per-request timeout.
func NewWebhookSink(url string, timeout time.Duration, headers map[string]string) *WebhookSink {
	return &WebhookSink{
		URL:     url,
		Headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink. Any non-2xx answer is a failure.
func (s *WebhookSink) Deliver(ctx context.Context, a health.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s answered %s", s.URL, resp.Status)
	}
	return nil
}
