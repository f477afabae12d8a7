package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/catletctl/pkg/telemetry"
)

// MemoryStore is the default in-memory SummaryStore.
type MemoryStore struct {
	byID map[string]CatletStatus
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]CatletStatus)}
}

// Get returns the catlet with the given id.
func (s *MemoryStore) Get(id string) (CatletStatus, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// FindByName returns a catlet with the given name. When several catlets
// share a name the one with the smallest id is returned.
func (s *MemoryStore) FindByName(name string) (CatletStatus, bool) {
	var (
		found CatletStatus
		ok    bool
	)
	for _, c := range s.byID {
		if c.Name != name {
			continue
		}
		if !ok || c.ID < found.ID {
			found, ok = c, true
		}
	}
	return found, ok
}

// Put inserts or replaces a catlet.
func (s *MemoryStore) Put(c CatletStatus) {
	s.byID[c.ID] = c
}

// Delete removes a catlet.
func (s *MemoryStore) Delete(id string) {
	delete(s.byID, id)
}

// Clear removes all catlets.
func (s *MemoryStore) Clear() {
	s.byID = make(map[string]CatletStatus)
}

// StatusCache is a lazily populated view of the remote catlet list shared by
// all orchestrators of a session. The mutex guards the store only; remote
// calls run without it, and concurrent first lookups share one bulk list.
type StatusCache struct {
	mu         sync.Mutex
	api        ComputeAPI
	store      SummaryStore
	populated  bool
	generation uint64
	lists      singleflight.Group
	metrics    *telemetry.Metrics
}

// CacheOption configures a StatusCache.
type CacheOption func(*StatusCache)

// WithSummaryStore replaces the default in-memory store.
func WithSummaryStore(s SummaryStore) CacheOption {
	return func(c *StatusCache) { c.store = s }
}

// WithCacheMetrics sets the metrics collector.
func WithCacheMetrics(m *telemetry.Metrics) CacheOption {
	return func(c *StatusCache) { c.metrics = m }
}

// NewStatusCache creates an empty, unpopulated cache.
func NewStatusCache(api ComputeAPI, opts ...CacheOption) *StatusCache {
	c := &StatusCache{
		api:   api,
		store: NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached summary for ref, populating the cache with one
// bulk list on first use. The id is tried first, then the name. A failing
// bulk list is logged and leaves the cache populated but empty, so every
// lookup reports Absent until the next Invalidate.
func (c *StatusCache) Lookup(ctx context.Context, ref CatletRef) Summary {
	c.ensurePopulated(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ref.ID != "" {
		if cs, ok := c.store.Get(ref.ID); ok {
			c.metrics.RecordCacheLookup("hit")
			return Found(cs)
		}
	}
	if ref.Name != "" {
		if cs, ok := c.store.FindByName(ref.Name); ok {
			if ref.ID != "" {
				c.metrics.RecordCacheLookup("name_fallback")
			} else {
				c.metrics.RecordCacheLookup("hit")
			}
			return Found(cs)
		}
	}
	c.metrics.RecordCacheLookup("miss")
	return Absent
}

// ensurePopulated performs the bulk list unless the cache is populated.
// It returns early when ctx ends; the shared list keeps running for the
// other waiters.
func (c *StatusCache) ensurePopulated(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.populated {
			c.mu.Unlock()
			return
		}
		gen := c.generation
		c.mu.Unlock()

		ch := c.lists.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
			c.populate(ctx, gen)
			return nil, nil
		})
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// populate lists all catlets and installs them unless the cache was
// invalidated while the list was in flight. A list aborted by the caller's
// context leaves the cache unpopulated.
func (c *StatusCache) populate(ctx context.Context, gen uint64) {
	catlets, err := c.api.ListCatlets(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.populated {
		return
	}
	c.store.Clear()
	c.populated = true

	if err != nil {
		c.metrics.RecordCacheLookup("list_error")
		log.Warn().Err(err).Msg("Failed to list catlets, treating all as absent")
		return
	}
	for _, cs := range catlets {
		c.store.Put(cs)
	}
	log.Debug().Int("count", len(catlets)).Msg("Populated catlet status cache")
}

// Refresh drops the cached entry for ref.ID and fetches it again. When the
// id no longer resolves and ref.Name is set, the cached name lookup is used
// as a fallback. Fetch errors are returned; the stale entry stays evicted.
func (c *StatusCache) Refresh(ctx context.Context, ref CatletRef) (Summary, error) {
	if ref.ID != "" {
		c.mu.Lock()
		c.store.Delete(ref.ID)
		c.mu.Unlock()

		summary, err := c.api.GetCatlet(ctx, ref.ID)
		if err != nil && !IsNotFound(err) {
			return Absent, fmt.Errorf("failed to refresh catlet %s: %w", ref.ID, err)
		}
		if err == nil {
			if cs, ok := summary.Catlet(); ok {
				c.Put(cs)
				return summary, nil
			}
		}
	}

	if ref.Name == "" {
		return Absent, nil
	}
	c.ensurePopulated(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.store.FindByName(ref.Name); ok {
		c.metrics.RecordCacheLookup("name_fallback")
		return Found(cs), nil
	}
	return Absent, nil
}

// Put records an observed catlet.
func (c *StatusCache) Put(cs CatletStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Put(cs)
}

// Invalidate drops all entries; the next Lookup repopulates. A bulk list
// still in flight is discarded.
func (c *StatusCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Clear()
	c.populated = false
	c.generation++
}

// Populated reports whether a bulk list has been performed since the last
// invalidation.
func (c *StatusCache) Populated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populated
}
