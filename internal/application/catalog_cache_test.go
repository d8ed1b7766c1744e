package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/venue-concierge/internal/domain"
)

func spiritsFixture() []domain.CatalogItem {
	return []domain.CatalogItem{
		{ID: "blantons", Segment: "spirits", Name: "Blanton's", Category: "Bourbon", Tier: domain.TierStandard, Available: true, Price: 18},
		{ID: "pappy-23", Segment: "spirits", Name: "Pappy Van Winkle 23", Category: "Bourbon", Tier: domain.TierRestricted, Available: true, Price: 400},
		{ID: "lagavulin-16", Segment: "spirits", Name: "Lagavulin 16", Category: "Scotch", Tier: domain.TierStandard, Available: true, Price: 22},
	}
}

func TestCatalogCacheServesWithinTTLFromOneLoad(t *testing.T) {
	t.Parallel()

	store := newFakeCatalog(spiritsFixture()...)
	clock := newFakeClock()
	cache := NewCatalogCache(store, clock, discardLogger(), CatalogCacheConfig{TTL: 5 * time.Minute})

	first, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	second, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
	assert.Equal(t, int64(1), store.loads.Load())

	clock.Advance(time.Minute)
	_, err = cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.loads.Load())
}

func TestCatalogCacheReturnsDetachedItems(t *testing.T) {
	t.Parallel()

	store := newFakeCatalog(spiritsFixture()...)
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})

	items, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	items[0].Name = "mutated"

	again, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	assert.Equal(t, "Blanton's", again[0].Name)
}

func TestCatalogCacheCollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	store := newFakeCatalog(spiritsFixture()...)
	store.entered = make(chan struct{}, 1)
	store.gate = make(chan struct{})
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})

	const callers = 32
	var (
		started sync.WaitGroup
		done    sync.WaitGroup
		mu      sync.Mutex
		results [][]domain.CatalogItem
	)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			items, err := cache.Get(context.Background(), "spirits")
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, items)
			mu.Unlock()
		}()
	}

	started.Wait()
	<-store.entered
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	done.Wait()

	assert.Equal(t, int64(1), store.loads.Load())
	require.Len(t, results, callers)
	for _, items := range results {
		assert.Equal(t, results[0], items)
	}
}

func TestCatalogCacheInvalidateForcesReload(t *testing.T) {
	t.Parallel()

	store := newFakeCatalog(spiritsFixture()...)
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})

	_, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)

	require.NoError(t, store.ReplaceSegment(context.Background(), "spirits", spiritsFixture()[:1]))
	cache.Invalidate("spirits")

	items, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(2), store.loads.Load())
}

func TestCatalogCacheServesStaleOnRefreshFailure(t *testing.T) {
	t.Parallel()

	store := newFakeCatalog(spiritsFixture()...)
	clock := newFakeClock()
	cache := NewCatalogCache(store, clock, discardLogger(), CatalogCacheConfig{TTL: time.Minute})

	fresh, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)

	store.setFailure(errors.Join(domain.ErrStoreUnavailable, errors.New("connection reset")))
	clock.Advance(2 * time.Minute)

	stale, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	assert.Equal(t, fresh, stale)

	require.NoError(t, cache.RefreshAll(context.Background()))
}

func TestCatalogCachePropagatesFailureWithoutPriorValue(t *testing.T) {
	t.Parallel()

	store := newFakeCatalog()
	store.setFailure(errors.Join(domain.ErrStoreUnavailable, errors.New("connection refused")))
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})

	_, err := cache.Get(context.Background(), "spirits")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	store.setFailure(nil)
	require.NoError(t, store.ReplaceSegment(context.Background(), "spirits", spiritsFixture()))
	items, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCatalogCacheRefreshAllReloadsKnownSegments(t *testing.T) {
	t.Parallel()

	fixture := append(spiritsFixture(), domain.CatalogItem{ID: "house-red", Segment: "wine", Name: "House Red", Tier: domain.TierStandard, Available: true})
	store := newFakeCatalog(fixture...)
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})

	_, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "wine")
	require.NoError(t, err)
	require.Equal(t, int64(2), store.loads.Load())

	require.NoError(t, cache.RefreshAll(context.Background()))
	assert.Equal(t, int64(4), store.loads.Load())
	assert.Equal(t, []domain.SegmentKey{"spirits", "wine"}, cache.Segments())

	snapshot, ok := cache.Snapshot("wine")
	require.True(t, ok)
	assert.Len(t, snapshot.Items, 1)
}

func TestCatalogCacheInvalidatesOnChangeNotification(t *testing.T) {
	t.Parallel()

	store := &watchingCatalog{fakeCatalog: newFakeCatalog(spiritsFixture()...)}
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})
	defer cache.Close()

	_, err := cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	require.Equal(t, int64(1), store.loads.Load())

	store.notify("catalog:spirits")

	_, err = cache.Get(context.Background(), "spirits")
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.loads.Load())
}

func TestCatalogCacheDropsSegmentsUnknownToStore(t *testing.T) {
	t.Parallel()

	store := &watchingCatalog{fakeCatalog: newFakeCatalog(spiritsFixture()...)}
	require.NoError(t, store.ReplaceSegment(context.Background(), "seasonal", nil))
	cache := NewCatalogCache(store, newFakeClock(), discardLogger(), CatalogCacheConfig{})
	defer cache.Close()

	items, err := cache.Get(context.Background(), "no-such-segment")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, store.watching("catalog:no-such-segment"))

	items, err = cache.Get(context.Background(), "seasonal")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.True(t, store.watching("catalog:seasonal"))

	assert.Equal(t, []domain.SegmentKey{"seasonal"}, cache.Segments())

	require.NoError(t, cache.RefreshAll(context.Background()))
	assert.Equal(t, []domain.SegmentKey{"seasonal"}, cache.Segments())
}
