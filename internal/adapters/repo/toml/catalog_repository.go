package toml

import (
	"context"
	"fmt"
	"sort"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

func (r *CatalogRepository) LoadSegment(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.catalogMu.RLock()
	defer r.store.catalogMu.RUnlock()

	var file catalogFileSchema
	if err := readTOMLFile(r.store.path(catalogFileName), &file); err != nil {
		return nil, err
	}

	items := make([]domain.CatalogItem, 0)
	for _, entry := range file.Items {
		if entry.Segment == string(key) {
			items = append(items, fromCatalogItemSchema(entry))
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r *CatalogRepository) FindItem(ctx context.Context, id domain.ItemID) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}

	r.store.catalogMu.RLock()
	defer r.store.catalogMu.RUnlock()

	var file catalogFileSchema
	if err := readTOMLFile(r.store.path(catalogFileName), &file); err != nil {
		return domain.CatalogItem{}, err
	}

	for _, entry := range file.Items {
		if entry.ID == string(id) {
			return fromCatalogItemSchema(entry), nil
		}
	}
	return domain.CatalogItem{}, fmt.Errorf("catalog item %s: %w", id, domain.ErrNotFound)
}

func (r *CatalogRepository) ReplaceSegment(ctx context.Context, key domain.SegmentKey, items []domain.CatalogItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, item := range items {
		if item.Segment != key {
			return fmt.Errorf("item %s belongs to segment %s, not %s", item.ID, item.Segment, key)
		}
		if err := item.Validate(); err != nil {
			return err
		}
	}

	if err := r.replaceSegment(key, items); err != nil {
		return err
	}
	r.store.notify(ports.CatalogCollection(key))
	return nil
}

func (r *CatalogRepository) replaceSegment(key domain.SegmentKey, items []domain.CatalogItem) error {
	r.store.catalogMu.Lock()
	defer r.store.catalogMu.Unlock()

	var file catalogFileSchema
	if err := readTOMLFile(r.store.path(catalogFileName), &file); err != nil {
		return err
	}

	kept := make([]catalogItemSchema, 0, len(file.Items)+len(items))
	for _, entry := range file.Items {
		if entry.Segment != string(key) {
			kept = append(kept, entry)
		}
	}
	for _, item := range items {
		kept = append(kept, toCatalogItemSchema(item))
	}
	file.Items = kept

	return writeTOMLFile(r.store.path(catalogFileName), file)
}

func (r *CatalogRepository) Segments(ctx context.Context) ([]domain.SegmentKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.catalogMu.RLock()
	defer r.store.catalogMu.RUnlock()

	var file catalogFileSchema
	if err := readTOMLFile(r.store.path(catalogFileName), &file); err != nil {
		return nil, err
	}

	seen := map[domain.SegmentKey]struct{}{}
	keys := make([]domain.SegmentKey, 0)
	for _, entry := range file.Items {
		key := domain.SegmentKey(entry.Segment)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func toCatalogItemSchema(item domain.CatalogItem) catalogItemSchema {
	return catalogItemSchema{
		ID:          string(item.ID),
		Segment:     string(item.Segment),
		Name:        item.Name,
		Category:    item.Category,
		Tags:        append([]string(nil), item.Tags...),
		Description: item.Description,
		Price:       item.Price,
		Tier:        string(item.Tier),
		Available:   item.Available,
	}
}

func fromCatalogItemSchema(schema catalogItemSchema) domain.CatalogItem {
	tier := domain.Tier(schema.Tier)
	if tier == "" {
		tier = domain.TierStandard
	}
	return domain.CatalogItem{
		ID:          domain.ItemID(schema.ID),
		Segment:     domain.SegmentKey(schema.Segment),
		Name:        schema.Name,
		Category:    schema.Category,
		Tags:        append([]string(nil), schema.Tags...),
		Description: schema.Description,
		Price:       schema.Price,
		Tier:        tier,
		Available:   schema.Available,
	}
}
