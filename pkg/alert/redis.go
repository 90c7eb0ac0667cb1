package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"GoHealthMonitor/pkg/health"
)

// RedisDedup shares the dedup history between monitor replicas.
type RedisDedup struct {
	Client *redis.Client
	Prefix string
}

// NewRedisDedup is the constructor. Keys are stored as "<prefix>:dedup:<alert key>".
func NewRedisDedup(rdb *redis.Client, prefix string) *RedisDedup {
	if prefix == "" {
		prefix = "healthmon"
	}
	return &RedisDedup{Client: rdb, Prefix: prefix}
}

// Key generates the redis key for an alert identity.
func (d *RedisDedup) Key(alertKey string) string {
	return fmt.Sprintf("%s:dedup:%s", d.Prefix, alertKey)
}

// Claim implements DedupStore with SET NX PX: the first caller within ttl wins.
func (d *RedisDedup) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	ok, err := d.Client.SetNX(ctx, d.Key(key), time.Now().UnixNano(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup claim %s: %w", key, err)
	}
	return ok, nil
}

// RedisSink publishes alerts on a channel and keeps a capped recent list.
type RedisSink struct {
	Client  *redis.Client
	Channel string
	ListKey string
	Keep    int64 // entries kept in ListKey
}

// NewRedisSink creates a sink publishing on channel and recording into listKey.
func NewRedisSink(rdb *redis.Client, channel, listKey string, keep int64) *RedisSink {
	if keep <= 0 {
		keep = 100
	}
	return &RedisSink{Client: rdb, Channel: channel, ListKey: listKey, Keep: keep}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Deliver implements Sink. Publish, push and trim go out in one pipeline.
func (s *RedisSink) Deliver(ctx context.Context, a health.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	pipe := s.Client.Pipeline()
	pipe.Publish(ctx, s.Channel, payload)
	if s.ListKey != "" {
		pipe.LPush(ctx, s.ListKey, payload)
		pipe.LTrim(ctx, s.ListKey, 0, s.Keep-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis deliver: %w", err)
	}
	return nil
}

// Recent reads back up to n alerts recorded by the sink, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]health.Alert, error) {
	raw, err := s.Client.LRange(ctx, s.ListKey, 0, n-1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]health.Alert, 0, len(raw))
	for _, r := range raw {
		var a health.Alert
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			return nil, fmt.Errorf("decoding alert: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
