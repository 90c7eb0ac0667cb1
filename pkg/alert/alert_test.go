package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoHealthMonitor/pkg/health"
)

type recordingSink struct {
	name    string
	delay   time.Duration
	failFor int32 // fail the first n deliveries
	fail    error
	calls   atomic.Int32

	mu  sync.Mutex
	got []health.Alert
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, a health.Alert) error {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= s.failFor {
		return errors.New("transient")
	}
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	s.got = append(s.got, a)
	s.mu.Unlock()
	return nil
}

type brokenStore struct{}

func (brokenStore) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("store down")
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func cpuCritical() health.Alert {
	return health.Alert{
		ID:        "a-1",
		Kind:      health.KindTransition,
		Metric:    "cpu",
		Previous:  health.Warning,
		Current:   health.Critical,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Value:     97,
		Source:    "aws",
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(5))
	assert.Equal(t, time.Second, b.Delay(50))

	b.Jitter = func(d time.Duration) time.Duration { return d / 2 }
	assert.Equal(t, 150*time.Millisecond, b.Delay(1))
	assert.Equal(t, time.Second, b.Delay(4), "jitter never exceeds the cap")
}

func TestRetry(t *testing.T) {
	b := Backoff{MaxAttempts: 3, Base: time.Millisecond}

	t.Run("stops on success", func(t *testing.T) {
		n, err := retry(context.Background(), b, func(attempt int) error {
			if attempt < 2 {
				return errors.New("no")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		n, err := retry(context.Background(), b, func(int) error { return errors.New("no") })
		require.Error(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Backoff{MaxAttempts: 5, Base: time.Hour}
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		n, err := retry(ctx, slow, func(int) error { return errors.New("no") })
		require.Error(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("zero attempts still tries once", func(t *testing.T) {
		n, _ := retry(context.Background(), Backoff{}, func(int) error { return errors.New("no") })
		assert.Equal(t, 1, n)
	})
}

func TestMemoryDedup(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMemoryDedup().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := m.Claim(ctx, "cpu|CRITICAL|transition", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Claim(ctx, "cpu|CRITICAL|transition", time.Minute)
	assert.False(t, ok, "second claim inside the cooldown")

	ok, _ = m.Claim(ctx, "cpu|WARNING|transition", time.Minute)
	assert.True(t, ok, "different state is a different identity")

	now = now.Add(time.Minute)
	ok, _ = m.Claim(ctx, "cpu|CRITICAL|transition", time.Minute)
	assert.True(t, ok, "cooldown elapsed")
	assert.Equal(t, 1, m.Len(), "expired entries are pruned")
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisDedup(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	d := NewRedisDedup(rdb, "")
	ctx := context.Background()

	assert.Equal(t, "healthmon:dedup:cpu|CRITICAL|transition", d.Key("cpu|CRITICAL|transition"))

	ok, err := d.Claim(ctx, "cpu|CRITICAL|transition", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(d.Key("cpu|CRITICAL|transition")))

	ok, err = d.Claim(ctx, "cpu|CRITICAL|transition", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(31 * time.Second)
	ok, err = d.Claim(ctx, "cpu|CRITICAL|transition", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "memory|WARNING|transition", 0)
	require.NoError(t, err)
	assert.True(t, ok, "no cooldown means no dedup")
}

func TestRedisDedupUnavailable(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	mr.Close()

	_, err := NewRedisDedup(rdb, "hm").Claim(context.Background(), "k", time.Second)
	assert.Error(t, err)
}

func TestRedisSink(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "alerts")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	s := NewRedisSink(rdb, "alerts", "alerts:recent", 2)
	assert.Equal(t, "redis", s.Name())

	for i, metric := range []string{"cpu", "memory", "disk"} {
		a := cpuCritical()
		a.ID = string(rune('a' + i))
		a.Metric = metric
		require.NoError(t, s.Deliver(ctx, a))
	}

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var first health.Alert
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &first))
	assert.Equal(t, "cpu", first.Metric)
	assert.Equal(t, health.Critical, first.Current)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "list is capped")
	assert.Equal(t, "disk", recent[0].Metric)
	assert.Equal(t, "memory", recent[1].Metric)
}

func TestWebhookSink(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		hdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, hdr = b, r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, time.Second, map[string]string{"X-Token": "secret"})
	require.NoError(t, s.Deliver(context.Background(), cpuCritical()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, "secret", hdr.Get("X-Token"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "cpu", got["metric"])
	assert.Equal(t, "CRITICAL", got["current"])
	assert.Equal(t, "WARNING", got["previous"])
	assert.Equal(t, "transition", got["kind"])
}

func TestWebhookSinkRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second, nil).Deliver(context.Background(), cpuCritical())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewLogSink(logger)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, cpuCritical()))
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "ALERT: cpu")

	recovered := cpuCritical()
	recovered.Previous, recovered.Current = health.Warning, health.Healthy
	require.NoError(t, s.Deliver(ctx, recovered))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "RECOVERED")

	predictive := cpuCritical()
	predictive.Kind = health.KindPredictive
	predictive.Forecast = &health.Prediction{Metric: "cpu", Predicted: 97, Confidence: 88, Horizon: 5 * time.Minute}
	require.NoError(t, s.Deliver(ctx, predictive))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "PREDICTIVE ALERT")
}

func TestDispatcherDeduplicates(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(Config{Cooldown: time.Minute}, nil, quietLogger())
	d.AddSink(sink, nil)
	ctx := context.Background()

	first := d.Dispatch(ctx, cpuCritical())
	assert.False(t, first.Suppressed)
	require.Len(t, first.Outcomes, 1)
	assert.NoError(t, first.Outcomes[0].Err)

	for range 5 {
		again := cpuCritical()
		again.ID = "other"
		dup := d.Dispatch(ctx, again)
		assert.True(t, dup.Suppressed)
		assert.Empty(t, dup.Outcomes)
	}
	assert.Equal(t, int32(1), sink.calls.Load(), "one attempt within the cooldown")

	predictive := cpuCritical()
	predictive.Kind = health.KindPredictive
	assert.False(t, d.Dispatch(ctx, predictive).Suppressed, "kind is part of the identity")
}

func TestDispatcherKeyIgnoresPreviousState(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(Config{Cooldown: time.Minute}, nil, quietLogger())
	d.AddSink(sink, nil)
	ctx := context.Background()

	escalation := cpuCritical()
	escalation.Previous, escalation.Current = health.Healthy, health.Warning
	require.False(t, d.Dispatch(ctx, escalation).Suppressed)

	recovery := cpuCritical()
	recovery.ID = "a-2"
	recovery.Previous, recovery.Current = health.Critical, health.Warning
	assert.Equal(t, escalation.Key(), recovery.Key())
	assert.True(t, d.Dispatch(ctx, recovery).Suppressed, "same metric and state within the cooldown")
	assert.Equal(t, int32(1), sink.calls.Load())
}

func TestDispatcherFailsOpen(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(Config{Cooldown: time.Minute}, brokenStore{}, quietLogger())
	d.AddSink(sink, nil)

	d.Dispatch(context.Background(), cpuCritical())
	d.Dispatch(context.Background(), cpuCritical())
	assert.Equal(t, int32(2), sink.calls.Load())
}

func TestDispatcherSinksAreIndependent(t *testing.T) {
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", fail: errors.New("unreachable")}
	slow := &recordingSink{name: "slow", delay: 50 * time.Millisecond}

	d := NewDispatcher(Config{Backoff: Backoff{MaxAttempts: 3, Base: time.Millisecond}}, nil, quietLogger())
	d.AddSink(good, nil)
	d.AddSink(bad, nil)
	d.AddSink(slow, nil)
	assert.Equal(t, []string{"good", "bad", "slow"}, d.Sinks())

	del := d.Dispatch(context.Background(), cpuCritical())
	require.Len(t, del.Outcomes, 3)

	assert.NoError(t, del.Outcomes[0].Err)
	assert.Equal(t, 1, del.Outcomes[0].Attempts)
	assert.NoError(t, del.Outcomes[2].Err)

	failed := del.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Sink)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.ErrorIs(t, failed[0].Err, ErrDeliveryFailed)

	var de *DeliveryError
	require.ErrorAs(t, failed[0].Err, &de)
	assert.Equal(t, "bad", de.Sink)
	assert.EqualError(t, errors.Unwrap(de), "unreachable")

	assert.Len(t, good.got, 1)
	assert.Len(t, slow.got, 1)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	flaky := &recordingSink{name: "flaky", failFor: 2}
	d := NewDispatcher(Config{Backoff: Backoff{MaxAttempts: 3, Base: time.Millisecond}}, nil, quietLogger())
	d.AddSink(flaky, nil)

	del := d.Dispatch(context.Background(), cpuCritical())
	require.Len(t, del.Outcomes, 1)
	assert.NoError(t, del.Outcomes[0].Err)
	assert.Equal(t, 3, del.Outcomes[0].Attempts)
}

type panickySink struct{}

func (panickySink) Name() string { return "panicky" }

func (panickySink) Deliver(context.Context, health.Alert) error { panic("boom") }

func TestDispatcherRecoversSinkPanic(t *testing.T) {
	d := NewDispatcher(Config{}, nil, quietLogger())
	d.AddSink(panickySink{}, nil)

	del := d.Dispatch(context.Background(), cpuCritical())
	require.Len(t, del.Outcomes, 1)
	assert.ErrorIs(t, del.Outcomes[0].Err, ErrDeliveryFailed)
	assert.Contains(t, del.Outcomes[0].Err.Error(), "panicked")
}

func TestDispatcherThrottle(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(Config{}, nil, quietLogger())
	d.AddSink(sink, NewThrottle(20, 1))

	alerts := make([]health.Alert, 3)
	for i := range alerts {
		alerts[i] = cpuCritical()
		alerts[i].Metric = string(rune('a' + i))
	}

	start := time.Now()
	out := d.DispatchAll(context.Background(), alerts)
	require.Len(t, out, 3)
	for i, del := range out {
		assert.Equal(t, alerts[i].Metric, del.Alert.Metric, "order is kept")
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestThrottleHonorsContext(t *testing.T) {
	th := NewThrottle(0.001, 1)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx))
}
