// Package dedup drops events a bot delivered more than once, e.g. after an
// HTTP POST retry or a reverse websocket reconnect.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cqhawk/cqevent/internal/metrics"
	"github.com/cqhawk/cqevent/pkg/event"
)

const keyPrefix = "cqevent:dedup:"

// Deduplicator reports whether an event has been seen before.
type Deduplicator interface {
	// Seen records ev and returns true if it was already recorded.
	Seen(ctx context.Context, ev *event.Event) (bool, error)
	// Forget releases ev so a redelivery is processed again.
	Forget(ctx context.Context, ev *event.Event) error
	Close() error
}

// RedisDeduplicator remembers event keys in Redis for a fixed TTL.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduplicator wraps an existing client.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// Connect parses redisURL, pings the server and returns a deduplicator over it.
func Connect(ctx context.Context, redisURL string, ttl time.Duration) (*RedisDeduplicator, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisDeduplicator(client, ttl), nil
}

func (d *RedisDeduplicator) Seen(ctx context.Context, ev *event.Event) (bool, error) {
	key, err := Key(ev)
	if err != nil {
		return false, err
	}
	fresh, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	if !fresh {
		metrics.DuplicatesDropped.Inc()
	}
	return !fresh, nil
}

func (d *RedisDeduplicator) Forget(ctx context.Context, ev *event.Event) error {
	key, err := Key(ev)
	if err != nil {
		return err
	}
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup release failed: %w", err)
	}
	return nil
}

func (d *RedisDeduplicator) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Key derives the dedup key for ev: the bot id plus the event id, or plus a
// hash of the payload when the event carries no id.
func Key(ev *event.Event) (string, error) {
	if id, ok := ev.ID().Get(); ok {
		return fmt.Sprintf("%s%s:%s:%s", keyPrefix, ev.SelfID(), ev.Type(), id), nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%sh:%s:%x", keyPrefix, ev.SelfID(), sum[:8]), nil
}

// NoOp never reports duplicates.
type NoOp struct{}

func (NoOp) Seen(context.Context, *event.Event) (bool, error) { return false, nil }

func (NoOp) Forget(context.Context, *event.Event) error { return nil }

func (NoOp) Close() error { return nil }
