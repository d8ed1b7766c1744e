package domain

import (
	"fmt"
	"time"
)

type GrantID string
type GrantStatus string

const (
	GrantStatusPending  GrantStatus = "pending"
	GrantStatusApproved GrantStatus = "approved"
	GrantStatusDenied   GrantStatus = "denied"
)

// DefaultGrantTTL bounds both how long a request may stay pending and how
// long an approval stays usable after resolution.
const DefaultGrantTTL = 2 * time.Hour

type GrantRequest struct {
	ID            GrantID
	SessionID     SessionID
	ItemID        ItemID
	RequesterName string
	Status        GrantStatus
	RequestedAt   time.Time
	ResolvedAt    *time.Time
	ExpiresAt     time.Time
	Note          string
}

func NewGrantRequest(id GrantID, session SessionID, item ItemID, name string, now time.Time, ttl time.Duration) GrantRequest {
	return GrantRequest{
		ID:            id,
		SessionID:     session,
		ItemID:        item,
		RequesterName: name,
		Status:        GrantStatusPending,
		RequestedAt:   now,
		ExpiresAt:     now.Add(ttl),
	}
}

func (g GrantRequest) Expired(now time.Time) bool { return !now.Before(g.ExpiresAt) }

// Outstanding reports whether the record blocks a new request for the same
// (session, item) pair.
func (g GrantRequest) Outstanding(now time.Time) bool {
	if g.Expired(now) {
		return false
	}
	return g.Status == GrantStatusPending || g.Status == GrantStatusApproved
}

// Authorizes reports whether the record is a usable grant at now.
func (g GrantRequest) Authorizes(now time.Time) bool {
	return g.Status == GrantStatusApproved && !g.Expired(now)
}

// Resolve moves a pending record to approved or denied. Either outcome
// restarts the expiry at now; for a denial it only bounds retention until
// the sweep purges the record.
func (g GrantRequest) Resolve(approved bool, note string, now time.Time, ttl time.Duration) (GrantRequest, error) {
	if g.Status != GrantStatusPending {
		return g, fmt.Errorf("resolve request %s in status %s: %w", g.ID, g.Status, ErrAlreadyResolved)
	}

	resolvedAt := now
	g.ResolvedAt = &resolvedAt
	g.Note = note
	g.ExpiresAt = now.Add(ttl)
	if approved {
		g.Status = GrantStatusApproved
	} else {
		g.Status = GrantStatusDenied
	}
	return g, nil
}

// Revoke forcibly denies an approved grant.
func (g GrantRequest) Revoke(note string, now time.Time) (GrantRequest, error) {
	if g.Status != GrantStatusApproved {
		return g, fmt.Errorf("revoke request %s in status %s: %w", g.ID, g.Status, ErrInvalidTransition)
	}
	resolvedAt := now
	g.ResolvedAt = &resolvedAt
	g.Status = GrantStatusDenied
	g.Note = note
	return g, nil
}

// PairKey identifies the (session, item) uniqueness scope.
func (g GrantRequest) PairKey() string { return GrantPairKey(g.SessionID, g.ItemID) }

func GrantPairKey(session SessionID, item ItemID) string {
	return string(session) + "|" + string(item)
}
