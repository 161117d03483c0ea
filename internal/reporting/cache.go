package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/waitflo/backend/internal/metrics"
)

const keyPrefix = "waitflo:report:"

// Cache stores rendered report views in Redis. A nil *Cache is a valid,
// always-missing cache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewCache connects to redisURL and pings it.
func NewCache(ctx context.Context, redisURL string, ttl time.Duration, log *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewCacheFromClient(rdb, ttl, log), nil
}

func NewCacheFromClient(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func accountKey(accountID uuid.UUID, view string) string {
	return keyPrefix + accountID.String() + ":" + view
}

// get decodes the cached value into dest. Any Redis failure is a miss.
func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.log.Warn("report cache get failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("report cache set failed", "key", key, "error", err)
	}
}

// InvalidateAccount drops every cached view of one account. Called after
// entries are posted or a payout request changes state.
func (c *Cache) InvalidateAccount(ctx context.Context, accountID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.deletePattern(ctx, keyPrefix+accountID.String()+":*"); err != nil {
		c.log.Warn("report cache invalidate failed", "account_id", accountID, "error", err)
	}
}

// deletePattern walks the keyspace with SCAN rather than KEYS.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// cached returns the value stored under key, or loads, stores and returns it.
func cached[T any](ctx context.Context, c *Cache, key string, load func() (T, error)) (T, error) {
	var v T
	if c.get(ctx, key, &v) {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.set(ctx, key, v)
	return v, nil
}
