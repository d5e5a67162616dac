// Package redis implements cache.Cache on top of github.com/redis/go-redis/v9,
// the production backend for the scheduler's external cache service (§4.A).
// Connection pool and timeout tuning follows the conventions used for the
// priority-queue-shaped Redis client in the retrieval pack's Bananas example.
package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rezkam/mono/internal/cache"
)

// Config controls connection pool sizing and timeouts.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = 20
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 5
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

// Cache wraps a *goredis.Client to satisfy cache.Cache.
type Cache struct {
	client *goredis.Client
}

// New dials Redis eagerly enough to build a client (no connection yet; go-redis
// connects lazily on first command) and returns the wrapped cache.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})
	return &Cache{client: client}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *Cache) Evict(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) EvictByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *Cache) SetAdd(ctx context.Context, key string, member string) error {
	return c.client.SAdd(ctx, key, member).Err()
}

func (c *Cache) SetMembers(ctx context.Context, key string) ([]string, error) {
	return c.client.SMembers(ctx, key).Result()
}

func (c *Cache) SetRemove(ctx context.Context, key string, member string) error {
	return c.client.SRem(ctx, key, member).Err()
}

func (c *Cache) SetCardinality(ctx context.Context, key string) (int64, error) {
	return c.client.SCard(ctx, key).Result()
}

func (c *Cache) SortedSetAdd(ctx context.Context, key string, member string, score float64) error {
	return c.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
}

func toScoredMembers(zs []goredis.Z) []cache.ScoredMember {
	out := make([]cache.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, cache.ScoredMember{Member: member, Score: z.Score})
	}
	return out
}

func (c *Cache) SortedSetPopMin(ctx context.Context, key string, n int) ([]cache.ScoredMember, error) {
	zs, err := c.client.ZPopMin(ctx, key, int64(n)).Result()
	if err != nil {
		return nil, err
	}
	return toScoredMembers(zs), nil
}

func (c *Cache) SortedSetRange(ctx context.Context, key string, lo, hi float64) ([]cache.ScoredMember, error) {
	zs, err := c.client.ZRangeByScoreWithScores(ctx, key, &goredis.ZRangeBy{
		Min: formatScore(lo),
		Max: formatScore(hi),
	}).Result()
	if err != nil {
		return nil, err
	}
	return toScoredMembers(zs), nil
}

func (c *Cache) SortedSetRemove(ctx context.Context, key string, member string) error {
	return c.client.ZRem(ctx, key, member).Err()
}

func (c *Cache) SortedSetScore(ctx context.Context, key string, member string) (float64, bool, error) {
	score, err := c.client.ZScore(ctx, key, member).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (c *Cache) SortedSetCount(ctx context.Context, key string, lo, hi float64) (int64, error) {
	return c.client.ZCount(ctx, key, formatScore(lo), formatScore(hi)).Result()
}

func (c *Cache) SortedSetRemoveByScore(ctx context.Context, key string, lo, hi float64) error {
	return c.client.ZRemRangeByScore(ctx, key, formatScore(lo), formatScore(hi)).Err()
}

// SetIfAbsent implements the distributed-lock primitive with Redis SET NX.
func (c *Cache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var _ cache.Cache = (*Cache)(nil)
