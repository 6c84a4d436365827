// Package cache holds the ephemeral per-client support state: the active
// session pointer that routes private messages into an open ticket, and the
// short-lived pending marker set by the storefront trigger path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "support:session:"
	pendingKeyPrefix = "support:pending:"

	DefaultSessionTTL = 24 * time.Hour
	DefaultPendingTTL = 15 * time.Minute
)

// RedisCache is the shared Redis-backed cache client.
type RedisCache struct {
	client     *redis.Client
	sessionTTL time.Duration
	pendingTTL time.Duration
}

// Option configures a RedisCache.
type Option func(*RedisCache)

// WithSessionTTL overrides the active-session pointer TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// WithPendingTTL overrides the pending-request marker TTL.
func WithPendingTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.pendingTTL = ttl
		}
	}
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client, opts ...Option) *RedisCache {
	c := &RedisCache{
		client:     client,
		sessionTTL: DefaultSessionTTL,
		pendingTTL: DefaultPendingTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping verifies connectivity at startup.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func sessionKey(telegramID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(telegramID, 10)
}

func pendingKey(telegramID int64) string {
	return pendingKeyPrefix + strconv.FormatInt(telegramID, 10)
}

// SetActiveSession points the client's private messages at the given ticket.
// Every write restarts the TTL window.
func (c *RedisCache) SetActiveSession(ctx context.Context, telegramID, ticketID int64) error {
	key := sessionKey(telegramID)
	if err := c.client.Set(ctx, key, strconv.FormatInt(ticketID, 10), c.sessionTTL).Err(); err != nil {
		return fmt.Errorf("set session %s: %w", key, err)
	}
	return nil
}

// ActiveSession returns the ticket id the client's session points at.
// Absence is not an error.
func (c *RedisCache) ActiveSession(ctx context.Context, telegramID int64) (int64, bool, error) {
	key := sessionKey(telegramID)
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get session %s: %w", key, err)
	}
	ticketID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Corrupt pointer: drop it rather than route on garbage.
		_ = c.client.Del(ctx, key).Err()
		return 0, false, nil
	}
	return ticketID, true, nil
}

// ClearActiveSession removes the session pointer. Clearing an absent pointer
// is a no-op.
func (c *RedisCache) ClearActiveSession(ctx context.Context, telegramID int64) error {
	key := sessionKey(telegramID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del session %s: %w", key, err)
	}
	return nil
}

// SetPendingRequest records that the client asked to enter support but the
// ticket is not confirmed yet. Returns false when a marker already exists,
// which gates duplicate storefront triggers.
func (c *RedisCache) SetPendingRequest(ctx context.Context, telegramID int64) (bool, error) {
	key := pendingKey(telegramID)
	set, err := c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), c.pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx pending %s: %w", key, err)
	}
	return set, nil
}

// PendingRequest reports whether a pending marker exists and when it was set.
func (c *RedisCache) PendingRequest(ctx context.Context, telegramID int64) (time.Time, bool, error) {
	key := pendingKey(telegramID)
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get pending %s: %w", key, err)
	}
	at, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, true, nil
	}
	return at, true, nil
}

// ClearPendingRequest drops the marker once the ticket is confirmed.
func (c *RedisCache) ClearPendingRequest(ctx context.Context, telegramID int64) error {
	key := pendingKey(telegramID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del pending %s: %w", key, err)
	}
	return nil
}
