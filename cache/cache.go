// Package cache provides an in-process read cache for slow-changing
// reference rows (chain config, asset-on-chain config) that every worker
// tick would otherwise re-fetch from the store. Adapted from the LRU/ARC
// cache wrapper this project's ambient stack is grown from: same Cache
// interface, trimmed to a single LRU backend.
package cache

import (
	lru "github.com/hashicorp/golang-lru"

	applog "github.com/shiftvault/custodycore/log"
)

var logger = applog.NewModuleLogger(applog.Cache)

// Cache is the minimal read-through surface every reference-data cache in
// this module exposes.
type Cache interface {
	Add(key interface{}, value interface{})
	Get(key interface{}) (interface{}, bool)
	Contains(key interface{}) bool
	Purge()
	Remove(key interface{})
	Len() int
}

type lruCache struct {
	cache *lru.Cache
}

func (c *lruCache) Add(key, value interface{})     { c.cache.Add(key, value) }
func (c *lruCache) Get(key interface{}) (interface{}, bool) { return c.cache.Get(key) }
func (c *lruCache) Contains(key interface{}) bool  { return c.cache.Contains(key) }
func (c *lruCache) Purge()                         { c.cache.Purge() }
func (c *lruCache) Remove(key interface{})         { c.cache.Remove(key) }
func (c *lruCache) Len() int                        { return c.cache.Len() }

// NewLRU builds a size-bounded LRU cache. size <= 0 falls back to a
// default of 256 so a zero size never disables caching silently.
func NewLRU(size int) Cache {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New(size)
	if err != nil {
		// Only returns an error for a non-positive size, which is excluded
		// above; reaching this would indicate a programming error, and
		// Crit exits the process.
		logger.Crit("failed to allocate LRU cache", "size", size, "err", err)
	}
	return &lruCache{cache: c}
}
