package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

type ItemFinder interface {
	FindItem(ctx context.Context, id domain.ItemID) (domain.CatalogItem, error)
}

type GrantWorkflowConfig struct {
	// TTL is the pending window of a new request and the usage window of an
	// approval, measured from resolution.
	TTL time.Duration
}

// GrantWorkflow issues, resolves and expires authorizations for restricted
// catalog items. Authorization is always derived from stored timestamps;
// SweepExpired only reclaims storage.
type GrantWorkflow struct {
	grants    ports.GrantRepository
	items     ItemFinder
	publisher ports.EventPublisher
	clock     ports.Clock
	logger    *slog.Logger
	cfg       GrantWorkflowConfig

	pairs *keyedMutex
}

func NewGrantWorkflow(grants ports.GrantRepository, items ItemFinder, publisher ports.EventPublisher, clock ports.Clock, logger *slog.Logger, cfg GrantWorkflowConfig) *GrantWorkflow {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = domain.DefaultGrantTTL
	}

	return &GrantWorkflow{
		grants:    grants,
		items:     items,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		pairs:     newKeyedMutex(),
	}
}

// Request files a pending request for a restricted item. When the pair
// already has an outstanding record, that record is returned together with
// a *domain.DuplicateError.
func (w *GrantWorkflow) Request(ctx context.Context, session domain.SessionID, itemID domain.ItemID, requesterName string) (domain.GrantRequest, error) {
	if strings.TrimSpace(string(session)) == "" {
		return domain.GrantRequest{}, fmt.Errorf("session id is required: %w", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(string(itemID)) == "" {
		return domain.GrantRequest{}, fmt.Errorf("item id is required: %w", domain.ErrInvalidInput)
	}

	item, err := w.items.FindItem(ctx, itemID)
	if err != nil {
		return domain.GrantRequest{}, fmt.Errorf("find item %s: %w", itemID, err)
	}
	if !item.Restricted() {
		return domain.GrantRequest{}, &domain.NotRestrictedError{ItemID: item.ID, Tier: item.Tier}
	}

	unlock := w.pairs.Lock(domain.GrantPairKey(session, itemID))
	defer unlock()

	now := w.clock.Now()
	existing, err := w.grants.FindOutstanding(ctx, session, itemID, now)
	switch {
	case err == nil:
		return existing, &domain.DuplicateError{Existing: existing}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.GrantRequest{}, fmt.Errorf("find outstanding grant: %w", err)
	}

	request := domain.NewGrantRequest(domain.GrantID(uuid.NewString()), session, itemID, strings.TrimSpace(requesterName), now, w.cfg.TTL)
	if err := w.grants.Create(ctx, request); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Another process won the store-level race.
			if existing, findErr := w.grants.FindOutstanding(ctx, session, itemID, now); findErr == nil {
				return existing, &domain.DuplicateError{Existing: existing}
			}
		}
		return domain.GrantRequest{}, fmt.Errorf("create grant request: %w", err)
	}

	w.publish(domain.NotificationGrantRequested, request, item.Name)
	return request, nil
}

// Resolve approves or denies a pending request. Approval opens a fresh
// usage window starting now. A pending request whose own window has lapsed
// is treated as gone.
func (w *GrantWorkflow) Resolve(ctx context.Context, id domain.GrantID, approved bool, note string) (domain.GrantRequest, error) {
	request, err := w.grants.GetByID(ctx, id)
	if err != nil {
		return domain.GrantRequest{}, fmt.Errorf("get grant request %s: %w", id, err)
	}

	unlock := w.pairs.Lock(request.PairKey())
	defer unlock()

	request, err = w.grants.GetByID(ctx, id)
	if err != nil {
		return domain.GrantRequest{}, fmt.Errorf("get grant request %s: %w", id, err)
	}

	now := w.clock.Now()
	if request.Status == domain.GrantStatusPending && request.Expired(now) {
		return domain.GrantRequest{}, fmt.Errorf("grant request %s expired at %s: %w", id, request.ExpiresAt.Format(time.RFC3339), domain.ErrNotFound)
	}

	resolved, err := request.Resolve(approved, strings.TrimSpace(note), now, w.cfg.TTL)
	if err != nil {
		return request, err
	}
	if err := w.grants.Transition(ctx, domain.GrantStatusPending, resolved); err != nil {
		return domain.GrantRequest{}, fmt.Errorf("store grant resolution: %w", err)
	}

	w.publish(domain.NotificationGrantResolved, resolved, "")
	return resolved, nil
}

// IsAuthorized reports whether session holds an approved, unexpired grant
// for item at this instant.
func (w *GrantWorkflow) IsAuthorized(ctx context.Context, session domain.SessionID, item domain.ItemID) (bool, error) {
	now := w.clock.Now()
	record, err := w.grants.FindOutstanding(ctx, session, item, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find outstanding grant: %w", err)
	}
	return record.Authorizes(now), nil
}

// Revoke denies the approved grant held by session for item.
func (w *GrantWorkflow) Revoke(ctx context.Context, session domain.SessionID, item domain.ItemID, note string) (domain.GrantRequest, error) {
	unlock := w.pairs.Lock(domain.GrantPairKey(session, item))
	defer unlock()

	now := w.clock.Now()
	record, err := w.grants.FindOutstanding(ctx, session, item, now)
	if err != nil {
		return domain.GrantRequest{}, fmt.Errorf("find grant for %s/%s: %w", session, item, err)
	}
	if record.Status != domain.GrantStatusApproved {
		return domain.GrantRequest{}, fmt.Errorf("grant %s is %s, not approved: %w", record.ID, record.Status, domain.ErrNotFound)
	}

	revoked, err := record.Revoke(strings.TrimSpace(note), now)
	if err != nil {
		return domain.GrantRequest{}, err
	}
	if err := w.grants.Transition(ctx, domain.GrantStatusApproved, revoked); err != nil {
		return domain.GrantRequest{}, fmt.Errorf("store grant revocation: %w", err)
	}

	w.publish(domain.NotificationGrantRevoked, revoked, "")
	return revoked, nil
}

// ListPending returns outstanding pending requests, newest first.
func (w *GrantWorkflow) ListPending(ctx context.Context) ([]domain.GrantRequest, error) {
	records, err := w.grants.ListByStatus(ctx, domain.GrantStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending grants: %w", err)
	}

	now := w.clock.Now()
	pending := make([]domain.GrantRequest, 0, len(records))
	for _, record := range records {
		if record.Outstanding(now) {
			pending = append(pending, record)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].RequestedAt.After(pending[j].RequestedAt)
	})
	return pending, nil
}

// SweepExpired deletes records whose expiry has passed.
func (w *GrantWorkflow) SweepExpired(ctx context.Context) (int, error) {
	removed, err := w.grants.DeleteExpired(ctx, w.clock.Now())
	if err != nil {
		return removed, fmt.Errorf("delete expired grants: %w", err)
	}
	if removed > 0 {
		w.logger.Info("swept expired grant requests", "count", removed)
	}
	return removed, nil
}

func (w *GrantWorkflow) publish(kind domain.NotificationKind, request domain.GrantRequest, itemName string) {
	if w.publisher == nil {
		return
	}
	if _, err := w.publisher.Publish(kind, domain.NewGrantEvent(request, itemName)); err != nil {
		w.logger.Warn("publish grant notification failed",
			"kind", kind,
			"request", request.ID,
			"error", err)
	}
}
