// Package cache contains the Redis-backed fleet presence cache. It records
// which instance currently serves a connection key; entries carry a TTL so a
// crashed instance's records age out on their own.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

// ErrNotPresent is returned by Fetch when no fleet instance holds the key.
var ErrNotPresent = errors.New("presence: key not present")

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisPresenceCache implements notify.PresenceCache on Redis.
type RedisPresenceCache struct {
	client redisClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPresenceCache is the constructor for the RedisPresenceCache.
func NewRedisPresenceCache(client redisClient, ttl time.Duration, logger *slog.Logger) (*RedisPresenceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("presence ttl must be positive")
	}
	return &RedisPresenceCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "redis_presence_cache"),
	}, nil
}

func presenceKey(key notify.ConnectionKey) string {
	return fmt.Sprintf("presence:%s", key)
}

// Set writes the presence record with the configured TTL.
func (c *RedisPresenceCache) Set(ctx context.Context, key notify.ConnectionKey, info notify.ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	if err := c.client.Set(ctx, presenceKey(key), payload, c.ttl).Err(); err != nil {
		c.logger.Error("Failed to set presence record", "key", key, "err", err)
		return fmt.Errorf("set presence record for key %s: %w", key, err)
	}
	return nil
}

// Refresh extends the TTL of an existing record. Heartbeat activity calls
// this so a live connection's record never expires.
func (c *RedisPresenceCache) Refresh(ctx context.Context, key notify.ConnectionKey) error {
	ok, err := c.client.Expire(ctx, presenceKey(key), c.ttl).Result()
	if err != nil {
		return fmt.Errorf("refresh presence record for key %s: %w", key, err)
	}
	if !ok {
		return ErrNotPresent
	}
	return nil
}

// Fetch reads the presence record for the key.
func (c *RedisPresenceCache) Fetch(ctx context.Context, key notify.ConnectionKey) (notify.ConnectionInfo, error) {
	payload, err := c.client.Get(ctx, presenceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return notify.ConnectionInfo{}, ErrNotPresent
	}
	if err != nil {
		c.logger.Error("Failed to fetch presence record", "key", key, "err", err)
		return notify.ConnectionInfo{}, fmt.Errorf("fetch presence record for key %s: %w", key, err)
	}

	var info notify.ConnectionInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return notify.ConnectionInfo{}, fmt.Errorf("unmarshal presence record for key %s: %w", key, err)
	}
	return info, nil
}

// Delete removes the presence record.
func (c *RedisPresenceCache) Delete(ctx context.Context, key notify.ConnectionKey) error {
	if err := c.client.Del(ctx, presenceKey(key)).Err(); err != nil {
		c.logger.Error("Failed to delete presence record", "key", key, "err", err)
		return fmt.Errorf("delete presence record for key %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisPresenceCache) Close() error {
	return c.client.Close()
}
