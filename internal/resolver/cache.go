package resolver

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"kgsink/internal/store"
)

type Cache interface {
	Get(ctx context.Context, key string) (store.Space, bool, error)
	Set(ctx context.Context, key string, space store.Space) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryCache is an in-process Cache bounded by capacity and TTL.
type MemoryCache struct {
	items *ttlcache.Cache[string, store.Space]
}

func NewMemoryCache(ttl time.Duration, capacity uint64) *MemoryCache {
	items := ttlcache.New[string, store.Space](
		ttlcache.WithTTL[string, store.Space](ttl),
		ttlcache.WithCapacity[string, store.Space](capacity),
	)
	go items.Start()
	return &MemoryCache{items: items}
}

func (c *MemoryCache) Get(_ context.Context, key string) (store.Space, bool, error) {
	item := c.items.Get(key)
	if item == nil {
		return store.Space{}, false, nil
	}
	return item.Value(), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, space store.Space) error {
	c.items.Set(key, space, ttlcache.DefaultTTL)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.items.Delete(key)
	}
	return nil
}

func (c *MemoryCache) Len() int {
	return c.items.Len()
}

// Close stops the expiry loop.
func (c *MemoryCache) Close() error {
	c.items.Stop()
	return nil
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (store.Space, bool, error) {
	return store.Space{}, false, nil
}
func (nopCache) Set(context.Context, string, store.Space) error { return nil }
func (nopCache) Delete(context.Context, ...string) error        { return nil }
