package ports

import (
	"context"

	"github.com/bnema/venue-concierge/internal/domain"
)

type CatalogRepository interface {
	// LoadSegment returns every item stored under key, ordered by name.
	// An unknown key yields an empty list, not an error.
	LoadSegment(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error)
	FindItem(ctx context.Context, id domain.ItemID) (domain.CatalogItem, error)
	// ReplaceSegment swaps the whole segment for items.
	ReplaceSegment(ctx context.Context, key domain.SegmentKey, items []domain.CatalogItem) error
	Segments(ctx context.Context) ([]domain.SegmentKey, error)
}

// ChangeNotifier is an optional store capability. Watch calls onChange after
// a write to collection, with no guarantee about payload or delivery. The
// returned stop func releases the watch.
type ChangeNotifier interface {
	Watch(ctx context.Context, collection string, onChange func()) (stop func(), err error)
}

// CatalogCollection names the change-notification collection for a segment.
func CatalogCollection(key domain.SegmentKey) string { return "catalog:" + string(key) }
