package ports

import (
	"context"
	"time"

	"github.com/bnema/venue-concierge/internal/domain"
)

type GrantRepository interface {
	// Create inserts a pending request. It fails with domain.ErrDuplicate
	// when an outstanding record already exists for the request's
	// (session, item) pair at request.RequestedAt; the check and the insert
	// are atomic.
	Create(ctx context.Context, request domain.GrantRequest) error
	GetByID(ctx context.Context, id domain.GrantID) (domain.GrantRequest, error)
	// FindOutstanding returns the record blocking the pair at now, or
	// domain.ErrNotFound.
	FindOutstanding(ctx context.Context, session domain.SessionID, item domain.ItemID, now time.Time) (domain.GrantRequest, error)
	// Transition stores request only if the stored record is still in
	// status from; otherwise it fails with domain.ErrAlreadyResolved.
	Transition(ctx context.Context, from domain.GrantStatus, request domain.GrantRequest) error
	ListByStatus(ctx context.Context, status domain.GrantStatus) ([]domain.GrantRequest, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
