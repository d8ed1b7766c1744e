package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/venue-concierge/internal/domain"
)

const maxStoredTurns = 200

// Layout:
//
//	conversation:<id>                     cbor conversation
//	conversation:<id>:turns               list of cbor turns, oldest first
//	conversation:by:<session>|<requester> conversation id
func (r *ConversationRepository) recordKey(id domain.ConversationID) string {
	return r.store.key("conversation", string(id))
}

func (r *ConversationRepository) turnsKey(id domain.ConversationID) string {
	return r.store.key("conversation", string(id), "turns")
}

func (r *ConversationRepository) lookupKey(session domain.SessionID, requester string) string {
	return r.store.key("conversation", "by", string(session)+"|"+requester)
}

// Resolve claims the lookup key with SET NX so concurrent first messages from
// the same requester land in one conversation.
func (r *ConversationRepository) Resolve(ctx context.Context, candidate domain.Conversation) (domain.Conversation, error) {
	if candidate.ID == "" {
		return domain.Conversation{}, fmt.Errorf("conversation id is required")
	}
	if candidate.UpdatedAt.IsZero() {
		candidate.UpdatedAt = candidate.CreatedAt
	}
	raw, err := encode(candidate)
	if err != nil {
		return domain.Conversation{}, err
	}

	client := r.store.client
	lookup := r.lookupKey(candidate.SessionID, candidate.RequesterID)
	claimed, err := client.SetNX(ctx, lookup, string(candidate.ID), 0).Result()
	if err != nil {
		return domain.Conversation{}, classify(err)
	}
	if claimed {
		if err := client.Set(ctx, r.recordKey(candidate.ID), raw, 0).Err(); err != nil {
			return domain.Conversation{}, classify(err)
		}
		return candidate, nil
	}

	existingID, err := client.Get(ctx, lookup).Result()
	if err != nil {
		return domain.Conversation{}, classify(err)
	}
	var existing domain.Conversation
	err = r.store.getDocument(ctx, r.recordKey(domain.ConversationID(existingID)), &existing)
	if errors.Is(err, domain.ErrNotFound) {
		// The winner has claimed the lookup key but not written its record
		// yet; its ID is all callers need.
		return domain.Conversation{
			ID:          domain.ConversationID(existingID),
			SessionID:   candidate.SessionID,
			RequesterID: candidate.RequesterID,
			CreatedAt:   candidate.CreatedAt,
			UpdatedAt:   candidate.UpdatedAt,
		}, nil
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	return existing, nil
}

func (r *ConversationRepository) AppendTurns(ctx context.Context, id domain.ConversationID, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		raw, err := encode(turn)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}

	_, err := r.store.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, r.turnsKey(id), values...)
		pipe.LTrim(ctx, r.turnsKey(id), -maxStoredTurns, -1)
		return nil
	})
	return classify(err)
}

func (r *ConversationRepository) Recent(ctx context.Context, id domain.ConversationID, limit int) ([]domain.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	values, err := r.store.client.LRange(ctx, r.turnsKey(id), start, -1).Result()
	if err != nil {
		return nil, classify(err)
	}

	turns := make([]domain.Turn, 0, len(values))
	for _, value := range values {
		var turn domain.Turn
		if err := decodeDocument([]byte(value), &turn); err != nil {
			return nil, domain.StoreFailure(fmt.Errorf("decode turn of %s: %w", id, err))
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
