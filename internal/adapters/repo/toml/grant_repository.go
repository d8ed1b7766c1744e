package toml

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bnema/venue-concierge/internal/domain"
)

// Create holds the grants file lock across the outstanding check and the
// write, which makes the pair check atomic for writers in this process.
func (r *GrantRepository) Create(ctx context.Context, request domain.GrantRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.grantsMu.Lock()
	defer r.store.grantsMu.Unlock()

	file, err := r.readGrants()
	if err != nil {
		return err
	}

	for _, entry := range file.Requests {
		existing := fromGrantSchema(entry)
		if existing.ID == request.ID {
			return fmt.Errorf("grant request %s already stored: %w", request.ID, domain.ErrDuplicate)
		}
		if existing.PairKey() == request.PairKey() && existing.Outstanding(request.RequestedAt) {
			return &domain.DuplicateError{Existing: existing}
		}
	}

	file.Requests = append(file.Requests, toGrantSchema(request))
	return writeTOMLFile(r.store.path(grantsFileName), file)
}

func (r *GrantRepository) GetByID(ctx context.Context, id domain.GrantID) (domain.GrantRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.GrantRequest{}, err
	}

	r.store.grantsMu.RLock()
	defer r.store.grantsMu.RUnlock()

	file, err := r.readGrants()
	if err != nil {
		return domain.GrantRequest{}, err
	}
	for _, entry := range file.Requests {
		if entry.ID == string(id) {
			return fromGrantSchema(entry), nil
		}
	}
	return domain.GrantRequest{}, fmt.Errorf("grant request %s: %w", id, domain.ErrNotFound)
}

func (r *GrantRepository) FindOutstanding(ctx context.Context, session domain.SessionID, item domain.ItemID, now time.Time) (domain.GrantRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.GrantRequest{}, err
	}

	r.store.grantsMu.RLock()
	defer r.store.grantsMu.RUnlock()

	file, err := r.readGrants()
	if err != nil {
		return domain.GrantRequest{}, err
	}

	pair := domain.GrantPairKey(session, item)
	for _, entry := range file.Requests {
		request := fromGrantSchema(entry)
		if request.PairKey() == pair && request.Outstanding(now) {
			return request, nil
		}
	}
	return domain.GrantRequest{}, fmt.Errorf("outstanding grant for %s: %w", pair, domain.ErrNotFound)
}

func (r *GrantRepository) Transition(ctx context.Context, from domain.GrantStatus, request domain.GrantRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.grantsMu.Lock()
	defer r.store.grantsMu.Unlock()

	file, err := r.readGrants()
	if err != nil {
		return err
	}

	for i, entry := range file.Requests {
		if entry.ID != string(request.ID) {
			continue
		}
		if domain.GrantStatus(entry.Status) != from {
			return fmt.Errorf("grant request %s is %s, not %s: %w", request.ID, entry.Status, from, domain.ErrAlreadyResolved)
		}
		file.Requests[i] = toGrantSchema(request)
		return writeTOMLFile(r.store.path(grantsFileName), file)
	}
	return fmt.Errorf("grant request %s: %w", request.ID, domain.ErrNotFound)
}

func (r *GrantRepository) ListByStatus(ctx context.Context, status domain.GrantStatus) ([]domain.GrantRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.grantsMu.RLock()
	defer r.store.grantsMu.RUnlock()

	file, err := r.readGrants()
	if err != nil {
		return nil, err
	}

	requests := make([]domain.GrantRequest, 0)
	for _, entry := range file.Requests {
		if domain.GrantStatus(entry.Status) == status {
			requests = append(requests, fromGrantSchema(entry))
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].RequestedAt.Before(requests[j].RequestedAt)
	})
	return requests, nil
}

func (r *GrantRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.grantsMu.Lock()
	defer r.store.grantsMu.Unlock()

	file, err := r.readGrants()
	if err != nil {
		return 0, err
	}

	kept := make([]grantSchema, 0, len(file.Requests))
	for _, entry := range file.Requests {
		if !fromGrantSchema(entry).Expired(now) {
			kept = append(kept, entry)
		}
	}
	removed := len(file.Requests) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	file.Requests = kept
	if err := writeTOMLFile(r.store.path(grantsFileName), file); err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *GrantRepository) readGrants() (grantsFileSchema, error) {
	var file grantsFileSchema
	if err := readTOMLFile(r.store.path(grantsFileName), &file); err != nil {
		return grantsFileSchema{}, err
	}
	return file, nil
}

func toGrantSchema(request domain.GrantRequest) grantSchema {
	return grantSchema{
		ID:            string(request.ID),
		SessionID:     string(request.SessionID),
		ItemID:        string(request.ItemID),
		RequesterName: request.RequesterName,
		Status:        string(request.Status),
		RequestedAt:   formatTime(request.RequestedAt),
		ResolvedAt:    formatOptionalTime(request.ResolvedAt),
		ExpiresAt:     formatTime(request.ExpiresAt),
		Note:          request.Note,
	}
}

func fromGrantSchema(schema grantSchema) domain.GrantRequest {
	return domain.GrantRequest{
		ID:            domain.GrantID(schema.ID),
		SessionID:     domain.SessionID(schema.SessionID),
		ItemID:        domain.ItemID(schema.ItemID),
		RequesterName: schema.RequesterName,
		Status:        domain.GrantStatus(schema.Status),
		RequestedAt:   parseTime(schema.RequestedAt),
		ResolvedAt:    parseOptionalTime(schema.ResolvedAt),
		ExpiresAt:     parseTime(schema.ExpiresAt),
		Note:          schema.Note,
	}
}
