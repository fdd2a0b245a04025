package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

const cleanupInterval = 10 * time.Minute

// cacheItem represents one cached search result with expiration
type cacheItem struct {
	Listings   []domain.Listing
	Expiration time.Time
}

// SearchCache is a thread-safe in-memory cache of storefront search results with TTL support
type SearchCache struct {
	data  map[string]cacheItem
	mutex sync.RWMutex
	now   func() time.Time
}

// NewSearchCache creates a new search cache. Expired entries are swept until ctx is done.
func NewSearchCache(ctx context.Context) *SearchCache {
	cache := &SearchCache{
		data: make(map[string]cacheItem),
		now:  time.Now,
	}

	go cache.cleanupExpired(ctx)

	return cache
}

// Key normalises a (retailer, query) pair so that case and spacing differences share an entry
func Key(retailer, query string) string {
	return strings.ToLower(strings.TrimSpace(retailer)) + "|" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Get retrieves the listings cached for a search
func (c *SearchCache) Get(retailer, query string) ([]domain.Listing, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.data[Key(retailer, query)]
	if !exists || c.now().After(item.Expiration) {
		return nil, false
	}

	return slices.Clone(item.Listings), true
}

// Set stores the listings of a search with TTL. Callers keep ownership of the slice they pass.
func (c *SearchCache) Set(retailer, query string, listings []domain.Listing, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[Key(retailer, query)] = cacheItem{
		Listings:   slices.Clone(listings),
		Expiration: c.now().Add(ttl),
	}
}

// Delete removes a search from the cache
func (c *SearchCache) Delete(retailer, query string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, Key(retailer, query))
}

// cleanupExpired removes expired entries from the cache periodically
func (c *SearchCache) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *SearchCache) sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	now := c.now()
	for key, item := range c.data {
		if now.After(item.Expiration) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Size returns the current number of items in the cache (for debugging/monitoring)
func (c *SearchCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Clear removes all items from the cache
func (c *SearchCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data = make(map[string]cacheItem)
}

// CachingFetcher decorates a StorefrontFetcher so repeated searches within the TTL are served from memory.
// Failed searches are never cached.
type CachingFetcher struct {
	next  domain.StorefrontFetcher
	cache *SearchCache
	ttl   time.Duration
}

// NewCachingFetcher wraps next. A non-positive ttl disables caching.
func NewCachingFetcher(next domain.StorefrontFetcher, cache *SearchCache, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{next: next, cache: cache, ttl: ttl}
}

// Search returns cached listings when present, otherwise searches and caches the result
func (f *CachingFetcher) Search(ctx context.Context, retailer, query string) ([]domain.Listing, error) {
	if f.ttl <= 0 {
		return f.next.Search(ctx, retailer, query)
	}

	if listings, ok := f.cache.Get(retailer, query); ok {
		logging.From(ctx).Debug("[CACHE] hit", "retailer", retailer, "query", query, "listings", len(listings))
		return listings, nil
	}

	listings, err := f.next.Search(ctx, retailer, query)
	if err != nil {
		return nil, err
	}

	f.cache.Set(retailer, query, listings, f.ttl)
	logging.From(ctx).Debug("[CACHE] stored", "retailer", retailer, "query", query, "listings", len(listings), "ttl", f.ttl)
	return listings, nil
}
