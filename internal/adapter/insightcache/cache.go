// Package insightcache implements the keyed, invalidatable insight cache.
// The local LRU layer is a display cache with a TTL; the shared layer keeps
// multiple orchestrator instances in sync; the backend fetch is the single
// source of truth.
package insightcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"insight-orchestrator/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds a detached backend fetch independently of the
// triggering caller's deadline.
const fetchTimeout = 30 * time.Second

// FetchFunc reads an entry from the backend.
type FetchFunc func(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error)

// SharedStore is the optional cross-instance layer. Implementations must
// treat missing keys as (nil, false, nil).
type SharedStore interface {
	Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, bool, error)
	Set(ctx context.Context, key domain.CacheKey, entry *domain.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key domain.CacheKey) error
}

// Cache layers a local expirable LRU over an optional shared store over the
// backend fetch. Concurrent refetches of the same key are deduplicated.
type Cache struct {
	local  *expirable.LRU[domain.CacheKey, domain.CacheEntry]
	shared SharedStore // may be nil
	fetch  FetchFunc
	group  singleflight.Group
	ttl    time.Duration
	logger *slog.Logger
}

// New constructs a cache. size bounds the local layer, ttl applies to both
// layers, shared may be nil for single-instance deployments.
func New(size int, ttl time.Duration, fetch FetchFunc, shared SharedStore, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		local:  expirable.NewLRU[domain.CacheKey, domain.CacheEntry](size, nil, ttl),
		shared: shared,
		fetch:  fetch,
		ttl:    ttl,
		logger: logger,
	}
}

// Get reads the entry, local layer first, then shared, then backend.
func (c *Cache) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	if entry, ok := c.local.Get(key); ok {
		clone := cloneEntry(entry)
		return &clone, nil
	}

	if c.shared != nil {
		entry, ok, err := c.shared.Get(ctx, key)
		if err != nil {
			c.logger.Warn("shared_cache_read_failed",
				slog.String("client_id", key.ClientID),
				slog.String("period", key.Period),
				slog.String("error", err.Error()))
		} else if ok {
			c.local.Add(key, cloneEntry(*entry))
			return entry, nil
		}
	}

	return c.ForceRefetch(ctx, key)
}

// MutateLocal applies an optimistic edit to the locally-held entry. Only the
// local layer changes; the shared store and backend are untouched, so a
// failed mutation can be rolled back by re-applying the inverse edit. On a
// local miss it is a no-op: fabricating an entry would hide sibling metrics
// from reads until the next refetch.
func (c *Cache) MutateLocal(key domain.CacheKey, mutate func(domain.CacheEntry) domain.CacheEntry) {
	entry, ok := c.local.Get(key)
	if !ok {
		return
	}
	c.local.Add(key, mutate(cloneEntry(entry)))
}

// Invalidate drops the entry from every layer.
func (c *Cache) Invalidate(ctx context.Context, key domain.CacheKey) error {
	c.local.Remove(key)
	if c.shared != nil {
		if err := c.shared.Delete(ctx, key); err != nil {
			return fmt.Errorf("invalidate shared entry: %w", err)
		}
	}
	return nil
}

// ForceRefetch bypasses both cache layers and re-reads from the backend.
// Concurrent callers for the same key share one backend call.
func (c *Cache) ForceRefetch(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	flightKey := key.ClientID + "|" + key.Period
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		// The shared fetch runs detached from the first caller's context so
		// its cancellation cannot fail every deduplicated waiter.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		entry, err := c.fetch(fctx, key)
		if err != nil {
			return nil, err
		}
		c.local.Add(key, cloneEntry(*entry))
		if c.shared != nil {
			if serr := c.shared.Set(fctx, key, entry, c.ttl); serr != nil {
				c.logger.Warn("shared_cache_write_failed",
					slog.String("client_id", key.ClientID),
					slog.String("period", key.Period),
					slog.String("error", serr.Error()))
			}
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	entry := v.(*domain.CacheEntry)
	clone := cloneEntry(*entry)
	return &clone, nil
}

func cloneEntry(e domain.CacheEntry) domain.CacheEntry {
	return domain.CacheEntry{
		Status:   e.Status,
		Insights: append([]domain.InsightRecord(nil), e.Insights...),
	}
}

var _ domain.InsightCache = (*Cache)(nil)
