package domain

import (
	"fmt"
	"strings"
	"time"
)

type ItemID string
type SegmentKey string
type Tier string

const (
	TierStandard   Tier = "standard"
	TierRestricted Tier = "restricted"
)

type CatalogItem struct {
	ID          ItemID
	Segment     SegmentKey
	Name        string
	Category    string
	Tags        []string
	Description string
	Price       float64
	Tier        Tier
	Available   bool
}

func (i CatalogItem) Restricted() bool { return i.Tier == TierRestricted }

func (i CatalogItem) Validate() error {
	if strings.TrimSpace(string(i.ID)) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(string(i.Segment)) == "" {
		return fmt.Errorf("item %s: segment is required", i.ID)
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("item %s: name is required", i.ID)
	}
	switch i.Tier {
	case TierStandard, TierRestricted:
	default:
		return fmt.Errorf("item %s: unsupported tier %q", i.ID, i.Tier)
	}
	if i.Price < 0 {
		return fmt.Errorf("item %s: price must not be negative", i.ID)
	}

	return nil
}

// Matches reports whether any of the lower-cased keywords appears in the
// item's name, category or tags.
func (i CatalogItem) Matches(keywords []string) bool {
	haystack := []string{strings.ToLower(i.Name), strings.ToLower(i.Category)}
	for _, tag := range i.Tags {
		haystack = append(haystack, strings.ToLower(tag))
	}
	for _, keyword := range keywords {
		for _, field := range haystack {
			if strings.Contains(field, keyword) {
				return true
			}
		}
	}
	return false
}

// Segment is a cached partition of the catalog. Items are replaced
// wholesale on refresh.
type Segment struct {
	Key         SegmentKey
	Items       []CatalogItem
	RefreshedAt time.Time
	TTL         time.Duration
}

func (s Segment) Fresh(now time.Time) bool {
	return !s.RefreshedAt.IsZero() && now.Sub(s.RefreshedAt) < s.TTL
}

func CloneItems(items []CatalogItem) []CatalogItem {
	if items == nil {
		return nil
	}
	cloned := make([]CatalogItem, len(items))
	for i, item := range items {
		item.Tags = append([]string(nil), item.Tags...)
		cloned[i] = item
	}
	return cloned
}
