package toml

import (
	"context"
	"fmt"

	"github.com/bnema/venue-concierge/internal/domain"
)

// Save upserts by session ID.
func (r *SessionRepository) Save(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.sessionsMu.Lock()
	defer r.store.sessionsMu.Unlock()

	file, err := r.read()
	if err != nil {
		return err
	}

	entry := toSessionSchema(session)
	replaced := false
	for i := range file.Sessions {
		if file.Sessions[i].ID == entry.ID {
			file.Sessions[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		file.Sessions = append(file.Sessions, entry)
	}

	return writeTOMLFile(r.store.path(sessionsFileName), file)
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	r.store.sessionsMu.RLock()
	defer r.store.sessionsMu.RUnlock()

	file, err := r.read()
	if err != nil {
		return domain.Session{}, err
	}
	for _, entry := range file.Sessions {
		if entry.ID == string(id) {
			return fromSessionSchema(entry), nil
		}
	}
	return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
}

func (r *SessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.sessionsMu.Lock()
	defer r.store.sessionsMu.Unlock()

	file, err := r.read()
	if err != nil {
		return err
	}

	for i, entry := range file.Sessions {
		if entry.ID == string(id) {
			file.Sessions = append(file.Sessions[:i], file.Sessions[i+1:]...)
			return writeTOMLFile(r.store.path(sessionsFileName), file)
		}
	}
	return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
}

func (r *SessionRepository) read() (sessionsFileSchema, error) {
	var file sessionsFileSchema
	if err := readTOMLFile(r.store.path(sessionsFileName), &file); err != nil {
		return sessionsFileSchema{}, err
	}
	return file, nil
}

func toSessionSchema(session domain.Session) sessionSchema {
	return sessionSchema{
		ID:           string(session.ID),
		Handle:       session.Transport.Handle,
		Offer:        session.Transport.Offer,
		SourceRef:    session.Transport.SourceRef,
		Status:       string(session.Status),
		CreatedAt:    formatTime(session.CreatedAt),
		StartedAt:    formatOptionalTime(session.StartedAt),
		LastActivity: formatTime(session.LastActivity),
	}
}

func fromSessionSchema(schema sessionSchema) domain.Session {
	return domain.Session{
		ID: domain.SessionID(schema.ID),
		Transport: domain.TransportHandle{
			Handle:    schema.Handle,
			SourceRef: schema.SourceRef,
			Offer:     schema.Offer,
		},
		Status:       domain.SessionStatus(schema.Status),
		CreatedAt:    parseTime(schema.CreatedAt),
		StartedAt:    parseOptionalTime(schema.StartedAt),
		LastActivity: parseTime(schema.LastActivity),
	}
}
