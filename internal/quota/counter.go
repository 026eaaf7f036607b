package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCounter keeps totals in process. Used when no redis is configured.
type MemoryCounter struct {
	mu    sync.Mutex
	calls map[string]int64
	spend map[string]float64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		calls: make(map[string]int64),
		spend: make(map[string]float64),
	}
}

func (c *MemoryCounter) AddCall(_ context.Context, day string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[day]++
	return c.calls[day], nil
}

func (c *MemoryCounter) ReleaseCall(_ context.Context, day string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls[day] > 0 {
		c.calls[day]--
	}
	return nil
}

func (c *MemoryCounter) AddSpend(_ context.Context, month string, cost float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spend[month] += cost
	return c.spend[month], nil
}

func (c *MemoryCounter) Calls(_ context.Context, day string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[day], nil
}

func (c *MemoryCounter) Spend(_ context.Context, month string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spend[month], nil
}

const (
	callsTTL = 48 * time.Hour
	spendTTL = 35 * 24 * time.Hour
)

// RedisCounter shares totals between instances.
type RedisCounter struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: "quota:"}
}

// NewRedisCounterFromURL parses a redis:// URL.
func NewRedisCounterFromURL(url string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCounter(redis.NewClient(opts)), nil
}

func (c *RedisCounter) callsKey(day string) string   { return c.prefix + "calls:" + day }
func (c *RedisCounter) spendKey(month string) string { return c.prefix + "spend:" + month }

func (c *RedisCounter) AddCall(ctx context.Context, day string) (int64, error) {
	key := c.callsKey(day)
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, callsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *RedisCounter) ReleaseCall(ctx context.Context, day string) error {
	key := c.callsKey(day)
	if err := c.rdb.Decr(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis decr %s: %w", key, err)
	}
	return nil
}

func (c *RedisCounter) AddSpend(ctx context.Context, month string, cost float64) (float64, error) {
	key := c.spendKey(month)
	pipe := c.rdb.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, cost)
	pipe.Expire(ctx, key, spendTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incrbyfloat %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Calls(ctx context.Context, day string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.callsKey(day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCounter) Spend(ctx context.Context, month string) (float64, error) {
	v, err := c.rdb.Get(ctx, c.spendKey(month)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.rdb.Close()
}
