package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blinkdate/matchmaking/internal/config"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

// KeyForDailyCalls generates the Redis key for a user's call count on the
// given UTC day.
func (c *RedisCache) KeyForDailyCalls(userID uint64, day time.Time) string {
	return fmt.Sprintf("calls:daily:%d:%s", userID, day.UTC().Format("2006-01-02"))
}

// GetDailyCallCount returns the cached call count for today, or -1 on a
// cache miss so callers can fall back to the database.
func (c *RedisCache) GetDailyCallCount(ctx context.Context, userID uint64, now time.Time) (int64, error) {
	key := c.KeyForDailyCalls(userID, now)
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return -1, nil // cache miss
	} else if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// SetDailyCallCount stores today's call count; the key expires at the next
// UTC midnight so counters reset with the quota window.
func (c *RedisCache) SetDailyCallCount(ctx context.Context, userID uint64, now time.Time, count int64) error {
	key := c.KeyForDailyCalls(userID, now)
	return c.Client.Set(ctx, key, count, untilMidnight(now)).Err()
}

// IncrDailyCallCount bumps today's counter, refreshing its midnight expiry.
func (c *RedisCache) IncrDailyCallCount(ctx context.Context, userID uint64, now time.Time) (int64, error) {
	key := c.KeyForDailyCalls(userID, now)
	n, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.Client.Expire(ctx, key, untilMidnight(now)).Err()
	return n, nil
}

func untilMidnight(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	d := midnight.Sub(now)
	if d <= 0 {
		d = time.Minute
	}
	return d
}
