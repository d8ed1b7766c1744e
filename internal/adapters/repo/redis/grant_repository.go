package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/venue-concierge/internal/domain"
)

// Layout:
//
//	grant:<id>                    cbor request
//	grant:pair:<session>|<item>   id of the record blocking the pair, PX until it expires
//	grants:status:<status>        set of ids
//	grants:expiry                 zset of ids scored by expiry in unix millis
func (r *GrantRepository) recordKey(id domain.GrantID) string {
	return r.store.key("grant", string(id))
}

func (r *GrantRepository) pairKey(pair string) string { return r.store.key("grant", "pair", pair) }

func (r *GrantRepository) statusKey(status domain.GrantStatus) string {
	return r.store.key("grants", "status", string(status))
}

func (r *GrantRepository) expiryKey() string { return r.store.key("grants", "expiry") }

var allGrantStatuses = []domain.GrantStatus{
	domain.GrantStatusPending,
	domain.GrantStatusApproved,
	domain.GrantStatusDenied,
}

// Create claims the pair key under WATCH. A stale pair key whose record no
// longer blocks the pair is overwritten.
func (r *GrantRepository) Create(ctx context.Context, request domain.GrantRequest) error {
	raw, err := encode(request)
	if err != nil {
		return err
	}

	recordKey := r.recordKey(request.ID)
	pairKey := r.pairKey(request.PairKey())

	err = r.store.transact(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, recordKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("grant request %s already stored: %w", request.ID, domain.ErrDuplicate)
		}

		holder, err := tx.Get(ctx, pairKey).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			var existing domain.GrantRequest
			err := r.store.getDocument(ctx, r.recordKey(domain.GrantID(holder)), &existing)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err == nil && existing.Outstanding(request.RequestedAt) {
				return &domain.DuplicateError{Existing: existing}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, recordKey, raw, 0)
			pipe.Set(ctx, pairKey, string(request.ID), ttlUntil(request.RequestedAt, request.ExpiresAt))
			pipe.SAdd(ctx, r.statusKey(request.Status), string(request.ID))
			pipe.ZAdd(ctx, r.expiryKey(), goredis.Z{Score: expiryScore(request.ExpiresAt), Member: string(request.ID)})
			return nil
		})
		return err
	}, recordKey, pairKey)
	return classify(err)
}

func (r *GrantRepository) GetByID(ctx context.Context, id domain.GrantID) (domain.GrantRequest, error) {
	var request domain.GrantRequest
	if err := r.store.getDocument(ctx, r.recordKey(id), &request); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.GrantRequest{}, fmt.Errorf("grant request %s: %w", id, err)
		}
		return domain.GrantRequest{}, err
	}
	return request, nil
}

func (r *GrantRepository) FindOutstanding(ctx context.Context, session domain.SessionID, item domain.ItemID, now time.Time) (domain.GrantRequest, error) {
	pair := domain.GrantPairKey(session, item)
	notFound := fmt.Errorf("outstanding grant for %s: %w", pair, domain.ErrNotFound)

	holder, err := r.store.client.Get(ctx, r.pairKey(pair)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.GrantRequest{}, notFound
		}
		return domain.GrantRequest{}, classify(err)
	}

	request, err := r.GetByID(ctx, domain.GrantID(holder))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.GrantRequest{}, notFound
		}
		return domain.GrantRequest{}, err
	}
	if !request.Outstanding(now) {
		return domain.GrantRequest{}, notFound
	}
	return request, nil
}

// Transition rewrites the record and keeps the pair key in step: denial
// releases the pair, approval extends it to the new expiry.
func (r *GrantRepository) Transition(ctx context.Context, from domain.GrantStatus, request domain.GrantRequest) error {
	raw, err := encode(request)
	if err != nil {
		return err
	}

	recordKey := r.recordKey(request.ID)
	pairKey := r.pairKey(request.PairKey())

	err = r.store.transact(ctx, func(tx *goredis.Tx) error {
		stored, err := tx.Get(ctx, recordKey).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return fmt.Errorf("grant request %s: %w", request.ID, domain.ErrNotFound)
			}
			return err
		}
		var current domain.GrantRequest
		if err := decodeGrant(stored, &current); err != nil {
			return err
		}
		if current.Status != from {
			return fmt.Errorf("grant request %s is %s, not %s: %w", request.ID, current.Status, from, domain.ErrAlreadyResolved)
		}

		holder, err := tx.Get(ctx, pairKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		holdsPair := holder == string(request.ID)

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, recordKey, raw, 0)
			if current.Status != request.Status {
				pipe.SRem(ctx, r.statusKey(current.Status), string(request.ID))
				pipe.SAdd(ctx, r.statusKey(request.Status), string(request.ID))
			}
			pipe.ZAdd(ctx, r.expiryKey(), goredis.Z{Score: expiryScore(request.ExpiresAt), Member: string(request.ID)})
			if holdsPair {
				switch request.Status {
				case domain.GrantStatusDenied:
					pipe.Del(ctx, pairKey)
				default:
					pipe.PExpireAt(ctx, pairKey, request.ExpiresAt)
				}
			}
			return nil
		})
		return err
	}, recordKey, pairKey)
	return classify(err)
}

func (r *GrantRepository) ListByStatus(ctx context.Context, status domain.GrantStatus) ([]domain.GrantRequest, error) {
	ids, err := r.store.client.SMembers(ctx, r.statusKey(status)).Result()
	if err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return []domain.GrantRequest{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.recordKey(domain.GrantID(id)))
	}
	values, err := r.store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classify(err)
	}

	requests := make([]domain.GrantRequest, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		var request domain.GrantRequest
		if err := decodeGrant([]byte(raw), &request); err != nil {
			return nil, fmt.Errorf("grant request %s: %w", ids[i], err)
		}
		if request.Status == status {
			requests = append(requests, request)
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].RequestedAt.Before(requests[j].RequestedAt)
	})
	return requests, nil
}

func (r *GrantRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.store.client.ZRangeByScore(ctx, r.expiryKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(expiryScore(now), 'f', 0, 64),
	}).Result()
	if err != nil {
		return 0, classify(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
	}

	_, err = r.store.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, r.recordKey(domain.GrantID(id)))
		}
		for _, status := range allGrantStatuses {
			pipe.SRem(ctx, r.statusKey(status), members...)
		}
		pipe.ZRem(ctx, r.expiryKey(), members...)
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return len(ids), nil
}

func decodeGrant(raw []byte, request *domain.GrantRequest) error {
	if err := decodeDocument(raw, request); err != nil {
		return domain.StoreFailure(fmt.Errorf("decode grant request: %w", err))
	}
	return nil
}

func expiryScore(at time.Time) float64 { return float64(at.UnixMilli()) }
