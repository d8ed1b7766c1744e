package ports

import (
	"context"

	"github.com/bnema/venue-concierge/internal/domain"
)

type SessionRepository interface {
	Save(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error)
	Delete(ctx context.Context, id domain.SessionID) error
}

type ConversationRepository interface {
	// Resolve returns the conversation for (session, requester), creating it
	// from candidate when none exists.
	Resolve(ctx context.Context, candidate domain.Conversation) (domain.Conversation, error)
	AppendTurns(ctx context.Context, id domain.ConversationID, turns ...domain.Turn) error
	// Recent returns at most limit turns, oldest first.
	Recent(ctx context.Context, id domain.ConversationID, limit int) ([]domain.Turn, error)
}
