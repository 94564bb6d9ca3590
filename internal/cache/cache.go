// Package cache is an optional Redis layer in front of the ledger's derived
// views. A nil *Cache is valid and behaves as a permanent miss, so callers
// never branch on whether Redis is configured.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 15 * time.Second

type Cache struct {
	client *redis.Client
}

// New connects to Redis at addr. Empty addr disables caching: it returns a
// nil cache and no error.
func New(ctx context.Context, addr string) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &Cache{client: client}, nil
}

// Get returns a cached payload and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

// Set stores a payload under the default short TTL.
func (c *Cache) Set(ctx context.Context, key, value string) {
	if c == nil {
		return
	}
	c.client.Set(ctx, key, value, defaultTTL)
}

// SetLatestPrice records the freshest price for a symbol.
func (c *Cache) SetLatestPrice(ctx context.Context, symbol string, price float64) {
	if c == nil {
		return
	}
	c.client.Set(ctx, "price:"+symbol, strconv.FormatFloat(price, 'f', -1, 64), 2*time.Minute)
}

// LatestPrice returns the cached price for a symbol, if fresh.
func (c *Cache) LatestPrice(ctx context.Context, symbol string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	v, err := c.client.Get(ctx, "price:"+symbol).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
