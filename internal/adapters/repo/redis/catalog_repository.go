package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/venue-concierge/internal/codec"
	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

// Layout:
//
//	catalog:segments        set of segment keys
//	catalog:segment:<key>   hash item id -> cbor item
//	catalog:items           hash item id -> cbor item
func (r *CatalogRepository) segmentsKey() string { return r.store.key("catalog", "segments") }
func (r *CatalogRepository) itemsKey() string { return r.store.key("catalog", "items") }
func (r *CatalogRepository) segmentKey(key domain.SegmentKey) string {
	return r.store.key("catalog", "segment", string(key))
}

func (r *CatalogRepository) LoadSegment(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error) {
	values, err := r.store.client.HGetAll(ctx, r.segmentKey(key)).Result()
	if err != nil {
		return nil, classify(err)
	}

	items := make([]domain.CatalogItem, 0, len(values))
	for id, raw := range values {
		var item domain.CatalogItem
		if err := codec.Unmarshal([]byte(raw), &item); err != nil {
			return nil, domain.StoreFailure(fmt.Errorf("decode catalog item %s: %w", id, err))
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Name == items[j].Name {
			return items[i].ID < items[j].ID
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (r *CatalogRepository) FindItem(ctx context.Context, id domain.ItemID) (domain.CatalogItem, error) {
	raw, err := r.store.client.HGet(ctx, r.itemsKey(), string(id)).Bytes()
	if err != nil {
		if err = classify(err); errors.Is(err, domain.ErrNotFound) {
			return domain.CatalogItem{}, fmt.Errorf("catalog item %s: %w", id, err)
		}
		return domain.CatalogItem{}, err
	}

	var item domain.CatalogItem
	if err := codec.Unmarshal(raw, &item); err != nil {
		return domain.CatalogItem{}, domain.StoreFailure(fmt.Errorf("decode catalog item %s: %w", id, err))
	}
	return item, nil
}

// ReplaceSegment swaps the segment in one MULTI block and then publishes a
// change for it.
func (r *CatalogRepository) ReplaceSegment(ctx context.Context, key domain.SegmentKey, items []domain.CatalogItem) error {
	fields := make([]any, 0, 2*len(items))
	for _, item := range items {
		if item.Segment != key {
			return fmt.Errorf("item %s belongs to segment %s, not %s", item.ID, item.Segment, key)
		}
		if err := item.Validate(); err != nil {
			return err
		}
		raw, err := encode(item)
		if err != nil {
			return err
		}
		fields = append(fields, string(item.ID), raw)
	}

	segmentKey := r.segmentKey(key)
	err := r.store.transact(ctx, func(tx *goredis.Tx) error {
		previous, err := tx.HKeys(ctx, segmentKey).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, segmentKey)
			if len(previous) > 0 {
				pipe.HDel(ctx, r.itemsKey(), previous...)
			}
			if len(fields) == 0 {
				pipe.SRem(ctx, r.segmentsKey(), string(key))
				return nil
			}
			pipe.HSet(ctx, segmentKey, fields...)
			pipe.HSet(ctx, r.itemsKey(), fields...)
			pipe.SAdd(ctx, r.segmentsKey(), string(key))
			return nil
		})
		return err
	}, segmentKey)
	if err != nil {
		return classify(err)
	}

	if err := r.store.publishChange(ctx, ports.CatalogCollection(key)); err != nil {
		return classify(err)
	}
	return nil
}

func (r *CatalogRepository) Segments(ctx context.Context) ([]domain.SegmentKey, error) {
	members, err := r.store.client.SMembers(ctx, r.segmentsKey()).Result()
	if err != nil {
		return nil, classify(err)
	}
	keys := make([]domain.SegmentKey, 0, len(members))
	for _, member := range members {
		keys = append(keys, domain.SegmentKey(member))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}
