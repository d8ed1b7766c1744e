package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/venue-concierge/internal/codec"
	"github.com/bnema/venue-concierge/internal/domain"
)

type grantFixture struct {
	workflow *GrantWorkflow
	repo     *inMemoryGrantRepo
	hub      *NotificationHub
	clock    *fakeClock
}

func newGrantFixture() grantFixture {
	clock := newFakeClock()
	repo := newInMemoryGrantRepo()
	hub := NewNotificationHub(clock, discardLogger(), NotificationHubConfig{})
	workflow := NewGrantWorkflow(repo, newFakeCatalog(spiritsFixture()...), hub, clock, discardLogger(), GrantWorkflowConfig{})
	return grantFixture{workflow: workflow, repo: repo, hub: hub, clock: clock}
}

func TestGrantWorkflowApprovalScenario(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	request, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	assert.Equal(t, domain.GrantStatusPending, request.Status)
	assert.Equal(t, testStart.Add(2*time.Hour), request.ExpiresAt)

	authorized, err := f.workflow.IsAuthorized(ctx, "s1", "pappy-23")
	require.NoError(t, err)
	assert.False(t, authorized)

	f.clock.Advance(30 * time.Minute)
	resolved, err := f.workflow.Resolve(ctx, request.ID, true, "VIP guest")
	require.NoError(t, err)
	assert.Equal(t, domain.GrantStatusApproved, resolved.Status)
	assert.Equal(t, testStart.Add(30*time.Minute).Add(2*time.Hour), resolved.ExpiresAt)
	assert.Equal(t, "VIP guest", resolved.Note)

	authorized, err = f.workflow.IsAuthorized(ctx, "s1", "pappy-23")
	require.NoError(t, err)
	assert.True(t, authorized)

	events := f.hub.List(10, false)
	require.Len(t, events, 2)
	assert.Equal(t, domain.NotificationGrantResolved, events[0].Kind)
	assert.Equal(t, domain.NotificationGrantRequested, events[1].Kind)

	var payload domain.GrantEvent
	require.NoError(t, codec.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, "Jane", payload.RequesterName)
	assert.Equal(t, "Pappy Van Winkle 23", payload.ItemName)
}

func TestGrantWorkflowRejectsNonRestrictedItems(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	_, err := f.workflow.Request(context.Background(), "s1", "blantons", "Jane")

	var notRestricted *domain.NotRestrictedError
	require.ErrorAs(t, err, &notRestricted)
	assert.ErrorIs(t, err, domain.ErrNotRestricted)
	assert.Equal(t, domain.ItemID("blantons"), notRestricted.ItemID)

	_, err = f.workflow.Request(context.Background(), "s1", "unknown", "Jane")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.repo.count())
}

func TestGrantWorkflowDuplicateSignals(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	first, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)

	existing, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	var duplicate *domain.DuplicateError
	require.ErrorAs(t, err, &duplicate)
	assert.False(t, duplicate.Approved())
	assert.Equal(t, first.ID, existing.ID)

	_, err = f.workflow.Resolve(ctx, first.ID, true, "")
	require.NoError(t, err)

	_, err = f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.ErrorAs(t, err, &duplicate)
	assert.True(t, duplicate.Approved())
	assert.Equal(t, 1, f.repo.count())

	// Another session is an independent pair.
	_, err = f.workflow.Request(ctx, "s2", "pappy-23", "Sam")
	require.NoError(t, err)
}

func TestGrantWorkflowNewRequestAfterDenialOrExpiry(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	first, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	_, err = f.workflow.Resolve(ctx, first.ID, false, "not tonight")
	require.NoError(t, err)

	second, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	f.clock.Advance(2 * time.Hour)
	third, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	assert.NotEqual(t, second.ID, third.ID)
}

func TestGrantWorkflowResolveTwice(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	request, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	approved, err := f.workflow.Resolve(ctx, request.ID, true, "first")
	require.NoError(t, err)

	_, err = f.workflow.Resolve(ctx, request.ID, false, "second")
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	stored, err := f.repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, approved, stored)

	_, err = f.workflow.Resolve(ctx, "missing", true, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGrantWorkflowResolveLapsedPendingIsNotFound(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	request, err := f.workflow.Request(context.Background(), "s1", "pappy-23", "Jane")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	_, err = f.workflow.Resolve(context.Background(), request.ID, true, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGrantWorkflowAuthorizationExpiresWithoutSweep(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	request, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	_, err = f.workflow.Resolve(ctx, request.ID, true, "")
	require.NoError(t, err)

	f.clock.Advance(2*time.Hour - time.Second)
	authorized, err := f.workflow.IsAuthorized(ctx, "s1", "pappy-23")
	require.NoError(t, err)
	assert.True(t, authorized)

	f.clock.Advance(time.Second)
	authorized, err = f.workflow.IsAuthorized(ctx, "s1", "pappy-23")
	require.NoError(t, err)
	assert.False(t, authorized)
	assert.Equal(t, 1, f.repo.count(), "record still stored until swept")

	removed, err := f.workflow.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, f.repo.count())
}

func TestGrantWorkflowRevoke(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	request, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)

	_, err = f.workflow.Revoke(ctx, "s1", "pappy-23", "")
	require.ErrorIs(t, err, domain.ErrNotFound, "pending requests cannot be revoked")

	_, err = f.workflow.Resolve(ctx, request.ID, true, "")
	require.NoError(t, err)

	revoked, err := f.workflow.Revoke(ctx, "s1", "pappy-23", "cut off")
	require.NoError(t, err)
	assert.Equal(t, domain.GrantStatusDenied, revoked.Status)

	authorized, err := f.workflow.IsAuthorized(ctx, "s1", "pappy-23")
	require.NoError(t, err)
	assert.False(t, authorized)
	assert.Equal(t, domain.NotificationGrantRevoked, f.hub.List(1, false)[0].Kind)
}

func TestGrantWorkflowListPendingNewestFirst(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	ctx := context.Background()

	older, err := f.workflow.Request(ctx, "s1", "pappy-23", "Jane")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	newer, err := f.workflow.Request(ctx, "s2", "pappy-23", "Sam")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	resolvedOne, err := f.workflow.Request(ctx, "s3", "pappy-23", "Ann")
	require.NoError(t, err)
	_, err = f.workflow.Resolve(ctx, resolvedOne.ID, false, "")
	require.NoError(t, err)

	pending, err := f.workflow.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, newer.ID, pending[0].ID)
	assert.Equal(t, older.ID, pending[1].ID)
}

func TestGrantWorkflowConcurrentRequestsCreateOneRecord(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	const callers = 16

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.workflow.Request(context.Background(), "s1", "pappy-23", "Jane")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrDuplicate):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, duplicates)
	assert.Equal(t, 1, f.repo.count())
}

func TestGrantWorkflowStoreFailurePropagates(t *testing.T) {
	t.Parallel()

	f := newGrantFixture()
	f.repo.failWith = domain.StoreFailure(errors.New("disk full"))

	_, err := f.workflow.Request(context.Background(), "s1", "pappy-23", "Jane")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, f.hub.List(10, false))
}
