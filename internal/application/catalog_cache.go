package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	DefaultCatalogTTL         = 5 * time.Minute
	defaultCatalogLoadTimeout = 10 * time.Second
)

type CatalogCacheConfig struct {
	TTL         time.Duration
	LoadTimeout time.Duration
}

// CatalogCache is a read-through cache of catalog segments. Concurrent misses
// on one key share a single store load, and a failed load keeps serving the
// previous items.
type CatalogCache struct {
	store    ports.CatalogRepository
	notifier ports.ChangeNotifier
	clock    ports.Clock
	logger   *slog.Logger
	cfg      CatalogCacheConfig

	loads singleflight.Group

	mu       sync.RWMutex
	segments map[domain.SegmentKey]*cachedSegment
	closed   bool
}

type cachedSegment struct {
	segment domain.Segment
	loaded  bool
	// generation is bumped by Invalidate so a load that started before the
	// invalidation cannot mark its result fresh.
	generation uint64
	stopWatch  func()
}

func NewCatalogCache(store ports.CatalogRepository, clock ports.Clock, logger *slog.Logger, cfg CatalogCacheConfig) *CatalogCache {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCatalogTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultCatalogLoadTimeout
	}

	cache := &CatalogCache{
		store:    store,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		segments: map[domain.SegmentKey]*cachedSegment{},
	}
	if notifier, ok := store.(ports.ChangeNotifier); ok {
		cache.notifier = notifier
	}
	return cache
}

func (c *CatalogCache) TTL() time.Duration { return c.cfg.TTL }

// Get returns the segment's items, loading them synchronously when the
// segment is unknown, invalidated or older than the TTL.
func (c *CatalogCache) Get(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error) {
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.segments[key]
	if ok && entry.loaded && entry.segment.Fresh(now) {
		items := domain.CloneItems(entry.segment.Items)
		c.mu.RUnlock()
		return items, nil
	}
	c.mu.RUnlock()

	return c.refresh(ctx, key)
}

// Invalidate forces the next Get for key to reload.
func (c *CatalogCache) Invalidate(key domain.SegmentKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.segments[key]
	if !ok {
		return
	}
	entry.generation++
	entry.segment.RefreshedAt = time.Time{}
	c.loads.Forget(string(key))
}

// RefreshAll reloads every known segment. Failures are absorbed per segment
// and reported together.
func (c *CatalogCache) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, key := range c.Segments() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.refresh(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("refresh segment %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *CatalogCache) Segments() []domain.SegmentKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]domain.SegmentKey, 0, len(c.segments))
	for key := range c.segments {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot returns the cached segment without triggering a load.
func (c *CatalogCache) Snapshot(key domain.SegmentKey) (domain.Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.segments[key]
	if !ok || !entry.loaded {
		return domain.Segment{}, false
	}
	segment := entry.segment
	segment.Items = domain.CloneItems(segment.Items)
	return segment, true
}

// Close releases every change watch. The cache keeps serving reads on TTL
// alone afterwards.
func (c *CatalogCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, entry := range c.segments {
		if entry.stopWatch != nil {
			entry.stopWatch()
			entry.stopWatch = nil
		}
	}
}

func (c *CatalogCache) refresh(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error) {
	result, err, _ := c.loads.Do(string(key), func() (any, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return domain.CloneItems(result.([]domain.CatalogItem)), nil
}

// load runs once per in-flight key. The shared load is detached from the
// first caller's cancellation so one abandoned request cannot fail the rest.
func (c *CatalogCache) load(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error) {
	generation := c.ensureEntry(ctx, key)

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
	defer cancel()

	items, loadErr := c.store.LoadSegment(loadCtx, key)
	if loadErr == nil && len(items) == 0 && !c.storedSegment(loadCtx, key) {
		c.evict(key)
		return []domain.CatalogItem{}, nil
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.segments[key]
	if loadErr != nil {
		if entry.loaded {
			c.logger.Warn("catalog refresh failed, serving stale segment",
				"segment", key,
				"age", now.Sub(entry.segment.RefreshedAt).String(),
				"error", loadErr)
			return entry.segment.Items, nil
		}
		return nil, fmt.Errorf("load catalog segment %s: %w", key, loadErr)
	}

	entry.loaded = true
	entry.segment = domain.Segment{
		Key:   key,
		Items: domain.CloneItems(items),
		TTL:   c.cfg.TTL,
	}
	if entry.generation == generation {
		entry.segment.RefreshedAt = now
	}
	return entry.segment.Items, nil
}

// storedSegment reports whether the store knows key. Lookup failures count
// as known so a transient error never drops a real segment.
func (c *CatalogCache) storedSegment(ctx context.Context, key domain.SegmentKey) bool {
	keys, err := c.store.Segments(ctx)
	if err != nil {
		c.logger.Warn("list catalog segments failed", "segment", key, "error", err)
		return true
	}
	for _, known := range keys {
		if known == key {
			return true
		}
	}
	return false
}

// evict drops the slot of a segment the store does not have, so arbitrary
// keys from clients leave neither an entry nor a change watch behind.
func (c *CatalogCache) evict(key domain.SegmentKey) {
	var stop func()
	c.mu.Lock()
	if entry, ok := c.segments[key]; ok {
		delete(c.segments, key)
		stop, entry.stopWatch = entry.stopWatch, nil
	}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// ensureEntry creates the cache slot for key on first use and, when the
// store supports it, subscribes to change notifications for the segment.
func (c *CatalogCache) ensureEntry(ctx context.Context, key domain.SegmentKey) uint64 {
	c.mu.Lock()
	entry, ok := c.segments[key]
	if ok {
		generation := entry.generation
		c.mu.Unlock()
		return generation
	}
	entry = &cachedSegment{}
	c.segments[key] = entry
	watch := c.notifier != nil && !c.closed
	c.mu.Unlock()

	if watch {
		c.watch(ctx, key, entry)
	}
	return 0
}

func (c *CatalogCache) watch(ctx context.Context, key domain.SegmentKey, entry *cachedSegment) {
	stop, err := c.notifier.Watch(context.WithoutCancel(ctx), ports.CatalogCollection(key), func() {
		c.Invalidate(key)
	})
	if err != nil {
		c.logger.Info("catalog change notifications unavailable, using TTL only",
			"segment", key,
			"error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		stop()
		return
	}
	entry.stopWatch = stop
}
