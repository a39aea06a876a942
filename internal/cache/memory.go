package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process Cache. All entries share the TTL given at
// construction; the per-call ttl is ignored.
type MemoryCache struct {
	lru *lru.LRU[string, []byte]
}

// NewMemoryCache creates a cache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size < 1 {
		size = 1024
	}
	return &MemoryCache{
		lru: lru.NewLRU[string, []byte](size, nil, ttl),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return val, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.lru.Add(key, value)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
