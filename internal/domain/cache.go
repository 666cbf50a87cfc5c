package domain

import "context"

// CacheKey identifies one shared insight-cache entry.
type CacheKey struct {
	ClientID string
	Period   string
}

// InsightCache is the keyed, invalidatable remote cache of insight entries.
// It is the single durable read path; local layers are display caches only
// and never authoritative for deletion correctness.
type InsightCache interface {
	// Get reads the entry, serving from local or shared layers when fresh
	// and fetching from the backend otherwise.
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	// MutateLocal applies an optimistic edit to the locally-held entry.
	// It does not touch the shared layer or the backend, and is a no-op
	// when no entry is held locally.
	MutateLocal(key CacheKey, mutate func(CacheEntry) CacheEntry)
	// Invalidate drops the entry from all cache layers.
	Invalidate(ctx context.Context, key CacheKey) error
	// ForceRefetch bypasses every layer and re-reads from the backend,
	// repopulating the layers on success.
	ForceRefetch(ctx context.Context, key CacheKey) (*CacheEntry, error)
}
