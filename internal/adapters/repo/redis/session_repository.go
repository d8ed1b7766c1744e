package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/venue-concierge/internal/domain"
)

func (r *SessionRepository) sessionKey(id domain.SessionID) string {
	return r.store.key("session", string(id))
}

func (r *SessionRepository) Save(ctx context.Context, session domain.Session) error {
	raw, err := encode(session)
	if err != nil {
		return err
	}
	return classify(r.store.client.Set(ctx, r.sessionKey(session.ID), raw, 0).Err())
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var session domain.Session
	if err := r.store.getDocument(ctx, r.sessionKey(id), &session); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, fmt.Errorf("session %s: %w", id, err)
		}
		return domain.Session{}, err
	}
	return session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	removed, err := r.store.client.Del(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return classify(err)
	}
	if removed == 0 {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
