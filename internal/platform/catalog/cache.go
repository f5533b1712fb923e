package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klinika/opd/pkg/apperr"
)

const cacheTTL = 5 * time.Minute

// CachedStore is a read-through cache in front of a Store. Redis outages and
// cache misses fall through to the inner store; only successful lookups are
// cached, so NotFound is always re-checked against the catalog.
type CachedStore struct {
	inner  Store
	client *redis.Client
}

func NewCachedStore(inner Store, client *redis.Client) *CachedStore {
	return &CachedStore{inner: inner, client: client}
}

func (c *CachedStore) FindPrice(ctx context.Context, category, codeOrName string) (float64, error) {
	key := fmt.Sprintf("catalog:price:%s:%s", category, codeOrName)
	return c.through(ctx, key, func() (float64, error) {
		return c.inner.FindPrice(ctx, category, codeOrName)
	})
}

func (c *CachedStore) FindFallback(ctx context.Context, category string) (float64, error) {
	key := fmt.Sprintf("catalog:fallback:%s", category)
	return c.through(ctx, key, func() (float64, error) {
		return c.inner.FindFallback(ctx, category)
	})
}

func (c *CachedStore) through(ctx context.Context, key string, load func() (float64, error)) (float64, error) {
	if val, err := c.client.Get(ctx, key).Result(); err == nil {
		if price, perr := strconv.ParseFloat(val, 64); perr == nil {
			return price, nil
		}
	}

	price, err := load()
	if err != nil {
		return 0, err
	}

	c.client.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), cacheTTL)
	return price, nil
}

// Connect dials redis and verifies it responds. Callers treat an error as
// "run without the cache", checked once at startup.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperr.E(apperr.Internal, "redis ping: %v", err)
	}
	return client, nil
}
