package domain

import "time"

type SessionID string
type SessionStatus string

const (
	SessionStatusCreated SessionStatus = "created"
	SessionStatusStarted SessionStatus = "started"
	SessionStatusClosed  SessionStatus = "closed"
)

// TransportHandle is what the avatar provider returned when the session was
// opened. Handle is opaque to everything except the provider.
type TransportHandle struct {
	Handle    string
	SourceRef string
	Offer     string
}

type Session struct {
	ID           SessionID
	Transport    TransportHandle
	Status       SessionStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	LastActivity time.Time
}

func (s Session) Idle(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastActivity) >= maxAge
}
