package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type redisMessage struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  int64          `json:"ts"`
}

// RedisTracker publishes events as JSON on a Redis pub/sub channel so other
// services (the Dislink analytics pipeline) can consume them.
type RedisTracker struct {
	rdb     *goredis.Client
	channel string
	now     func() time.Time
}

// NewRedisTracker connects to addr and verifies the connection with a ping.
func NewRedisTracker(ctx context.Context, addr, channel string) (*RedisTracker, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "dxp:events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisTracker(rdb, channel), nil
}

func newRedisTracker(rdb *goredis.Client, channel string) *RedisTracker {
	return &RedisTracker{rdb: rdb, channel: channel, now: time.Now}
}

func (t *RedisTracker) Track(ctx context.Context, name string, props map[string]any) error {
	raw, err := json.Marshal(redisMessage{Event: name, Properties: props, Timestamp: t.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := t.rdb.Publish(ctx, t.channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (t *RedisTracker) Close() error {
	return t.rdb.Close()
}
