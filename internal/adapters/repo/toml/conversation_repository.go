package toml

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bnema/venue-concierge/internal/domain"
)

// maxStoredTurns caps the transcript kept per conversation. Older turns are
// dropped on append.
const maxStoredTurns = 200

func (r *ConversationRepository) Resolve(ctx context.Context, candidate domain.Conversation) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, err
	}

	r.store.conversationsMu.Lock()
	defer r.store.conversationsMu.Unlock()

	file, err := r.read()
	if err != nil {
		return domain.Conversation{}, err
	}

	for _, entry := range file.Conversations {
		if entry.SessionID == string(candidate.SessionID) && entry.RequesterID == candidate.RequesterID {
			return fromConversationSchema(entry), nil
		}
	}

	if candidate.ID == "" {
		candidate.ID = domain.ConversationID(uuid.NewString())
	}
	if candidate.UpdatedAt.IsZero() {
		candidate.UpdatedAt = candidate.CreatedAt
	}
	file.Conversations = append(file.Conversations, conversationSchema{
		ID:          string(candidate.ID),
		SessionID:   string(candidate.SessionID),
		RequesterID: candidate.RequesterID,
		CreatedAt:   formatTime(candidate.CreatedAt),
		UpdatedAt:   formatTime(candidate.UpdatedAt),
	})
	if err := writeTOMLFile(r.store.path(conversationsFileName), file); err != nil {
		return domain.Conversation{}, err
	}
	return candidate, nil
}

func (r *ConversationRepository) AppendTurns(ctx context.Context, id domain.ConversationID, turns ...domain.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	r.store.conversationsMu.Lock()
	defer r.store.conversationsMu.Unlock()

	file, err := r.read()
	if err != nil {
		return err
	}

	for i := range file.Conversations {
		entry := &file.Conversations[i]
		if entry.ID != string(id) {
			continue
		}
		for _, turn := range turns {
			entry.Turns = append(entry.Turns, turnSchema{
				Role: string(turn.Role),
				Text: turn.Text,
				At:   formatTime(turn.At),
			})
		}
		if overflow := len(entry.Turns) - maxStoredTurns; overflow > 0 {
			entry.Turns = append([]turnSchema(nil), entry.Turns[overflow:]...)
		}
		entry.UpdatedAt = formatTime(turns[len(turns)-1].At)
		return writeTOMLFile(r.store.path(conversationsFileName), file)
	}
	return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
}

func (r *ConversationRepository) Recent(ctx context.Context, id domain.ConversationID, limit int) ([]domain.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.conversationsMu.RLock()
	defer r.store.conversationsMu.RUnlock()

	file, err := r.read()
	if err != nil {
		return nil, err
	}

	for _, entry := range file.Conversations {
		if entry.ID != string(id) {
			continue
		}
		stored := entry.Turns
		if limit > 0 && len(stored) > limit {
			stored = stored[len(stored)-limit:]
		}
		turns := make([]domain.Turn, 0, len(stored))
		for _, turn := range stored {
			turns = append(turns, domain.Turn{
				Role: domain.Role(turn.Role),
				Text: turn.Text,
				At:   parseTime(turn.At),
			})
		}
		return turns, nil
	}
	return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
}

func (r *ConversationRepository) read() (conversationsFileSchema, error) {
	var file conversationsFileSchema
	if err := readTOMLFile(r.store.path(conversationsFileName), &file); err != nil {
		return conversationsFileSchema{}, err
	}
	return file, nil
}

func fromConversationSchema(schema conversationSchema) domain.Conversation {
	return domain.Conversation{
		ID:          domain.ConversationID(schema.ID),
		SessionID:   domain.SessionID(schema.SessionID),
		RequesterID: schema.RequesterID,
		CreatedAt:   parseTime(schema.CreatedAt),
		UpdatedAt:   parseTime(schema.UpdatedAt),
	}
}
