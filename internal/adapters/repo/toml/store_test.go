package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

var testNow = time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	config := viper.New()
	config.Set("store.path", filepath.Join(t.TempDir(), "state"))

	store, err := NewStore(config)
	require.NoError(t, err)
	return store
}

func item(id, segment, name string, tier domain.Tier) domain.CatalogItem {
	return domain.CatalogItem{
		ID:        domain.ItemID(id),
		Segment:   domain.SegmentKey(segment),
		Name:      name,
		Category:  "whisky",
		Tags:      []string{"islay"},
		Price:     12.5,
		Tier:      tier,
		Available: true,
	}
}

func TestCatalogReplaceAndLoadSegment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newTestStore(t).Catalog()

	require.NoError(t, catalog.ReplaceSegment(ctx, "spirits", []domain.CatalogItem{
		item("s-2", "spirits", "Lagavulin 16", domain.TierStandard),
		item("s-1", "spirits", "Ardbeg 10", domain.TierStandard),
	}))
	require.NoError(t, catalog.ReplaceSegment(ctx, "wine", []domain.CatalogItem{
		item("w-1", "wine", "Barolo", domain.TierStandard),
	}))

	spirits, err := catalog.LoadSegment(ctx, "spirits")
	require.NoError(t, err)
	require.Len(t, spirits, 2)
	assert.Equal(t, "Ardbeg 10", spirits[0].Name)
	assert.Equal(t, item("s-2", "spirits", "Lagavulin 16", domain.TierStandard), spirits[1])

	require.NoError(t, catalog.ReplaceSegment(ctx, "spirits", []domain.CatalogItem{
		item("s-9", "spirits", "Port Ellen 40", domain.TierRestricted),
	}))
	spirits, err = catalog.LoadSegment(ctx, "spirits")
	require.NoError(t, err)
	require.Len(t, spirits, 1)
	assert.True(t, spirits[0].Restricted())

	keys, err := catalog.Segments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SegmentKey{"spirits", "wine"}, keys)

	unknown, err := catalog.LoadSegment(ctx, "desserts")
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestCatalogFindItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newTestStore(t).Catalog()
	require.NoError(t, catalog.ReplaceSegment(ctx, "spirits", []domain.CatalogItem{
		item("s-1", "spirits", "Ardbeg 10", domain.TierStandard),
	}))

	found, err := catalog.FindItem(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Ardbeg 10", found.Name)

	_, err = catalog.FindItem(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogReplaceRejectsInvalidItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newTestStore(t).Catalog()

	err := catalog.ReplaceSegment(ctx, "spirits", []domain.CatalogItem{item("w-1", "wine", "Barolo", domain.TierStandard)})
	require.Error(t, err)

	err = catalog.ReplaceSegment(ctx, "spirits", []domain.CatalogItem{item("s-1", "spirits", "", domain.TierStandard)})
	require.Error(t, err)

	keys, err := catalog.Segments(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCatalogWatchFiresOnReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newTestStore(t).Catalog()

	var spiritsCalls, wineCalls atomic.Int32
	stop, err := catalog.Watch(ctx, ports.CatalogCollection("spirits"), func() { spiritsCalls.Add(1) })
	require.NoError(t, err)
	stopWine, err := catalog.Watch(ctx, ports.CatalogCollection("wine"), func() { wineCalls.Add(1) })
	require.NoError(t, err)
	defer stopWine()

	require.NoError(t, catalog.ReplaceSegment(ctx, "spirits", nil))
	assert.Equal(t, int32(1), spiritsCalls.Load())
	assert.Equal(t, int32(0), wineCalls.Load())

	stop()
	require.NoError(t, catalog.ReplaceSegment(ctx, "spirits", nil))
	assert.Equal(t, int32(1), spiritsCalls.Load())
}

func TestGrantCreateRejectsOutstandingPair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	grants := newTestStore(t).Grants()

	first := domain.NewGrantRequest("g-1", "sess-1", "s-9", "Ana", testNow, time.Hour)
	require.NoError(t, grants.Create(ctx, first))

	second := domain.NewGrantRequest("g-2", "sess-1", "s-9", "Ana", testNow.Add(time.Minute), time.Hour)
	err := grants.Create(ctx, second)
	require.ErrorIs(t, err, domain.ErrDuplicate)

	var duplicate *domain.DuplicateError
	require.True(t, errors.As(err, &duplicate))
	assert.Equal(t, first.ID, duplicate.Existing.ID)

	other := domain.NewGrantRequest("g-3", "sess-2", "s-9", "Ben", testNow, time.Hour)
	require.NoError(t, grants.Create(ctx, other))

	afterExpiry := domain.NewGrantRequest("g-4", "sess-1", "s-9", "Ana", testNow.Add(2*time.Hour), time.Hour)
	require.NoError(t, grants.Create(ctx, afterExpiry))
}

func TestGrantCreateIsAtomicUnderContention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	grants := newTestStore(t).Grants()

	const workers = 8
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			request := domain.NewGrantRequest(domain.GrantID(fmt.Sprintf("g-%d", i)), "sess-1", "s-9", "Ana", testNow, time.Hour)
			if err := grants.Create(ctx, request); err == nil {
				created.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrDuplicate)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	pending, err := grants.ListByStatus(ctx, domain.GrantStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGrantTransitionRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	grants := newTestStore(t).Grants()

	request := domain.NewGrantRequest("g-1", "sess-1", "s-9", "Ana", testNow, time.Hour)
	require.NoError(t, grants.Create(ctx, request))

	approved, err := request.Resolve(true, "enjoy", testNow.Add(10*time.Minute), time.Hour)
	require.NoError(t, err)
	require.NoError(t, grants.Transition(ctx, domain.GrantStatusPending, approved))

	got, err := grants.GetByID(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, approved, got)

	err = grants.Transition(ctx, domain.GrantStatusPending, approved)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	found, err := grants.FindOutstanding(ctx, "sess-1", "s-9", testNow.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.GrantStatusApproved, found.Status)

	_, err = grants.FindOutstanding(ctx, "sess-1", "s-9", testNow.Add(2*time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = grants.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGrantDeleteExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	grants := newTestStore(t).Grants()

	require.NoError(t, grants.Create(ctx, domain.NewGrantRequest("g-1", "sess-1", "s-1", "Ana", testNow, time.Minute)))
	require.NoError(t, grants.Create(ctx, domain.NewGrantRequest("g-2", "sess-1", "s-2", "Ana", testNow, time.Hour)))

	removed, err := grants.DeleteExpired(ctx, testNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = grants.DeleteExpired(ctx, testNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = grants.GetByID(ctx, "g-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionSaveGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sessions := newTestStore(t).Sessions()

	session := domain.Session{
		ID:           "sess-1",
		Transport:    domain.TransportHandle{Handle: "pc-1", SourceRef: "bar-3", Offer: "v=0"},
		Status:       domain.SessionStatusCreated,
		CreatedAt:    testNow,
		LastActivity: testNow,
	}
	require.NoError(t, sessions.Save(ctx, session))

	started := testNow.Add(time.Second)
	session.Status = domain.SessionStatusStarted
	session.StartedAt = &started
	require.NoError(t, sessions.Save(ctx, session))

	got, err := sessions.GetByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session, got)

	require.NoError(t, sessions.Delete(ctx, "sess-1"))
	_, err = sessions.GetByID(ctx, "sess-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, sessions.Delete(ctx, "sess-1"), domain.ErrNotFound)
}

func TestConversationResolveAppendRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conversations := newTestStore(t).Conversations()

	candidate := domain.Conversation{ID: "c-1", SessionID: "sess-1", RequesterID: "table-4", CreatedAt: testNow}
	conversation, err := conversations.Resolve(ctx, candidate)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationID("c-1"), conversation.ID)

	again, err := conversations.Resolve(ctx, domain.Conversation{ID: "c-2", SessionID: "sess-1", RequesterID: "table-4", CreatedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, conversation.ID, again.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, conversations.AppendTurns(ctx, conversation.ID,
			domain.Turn{Role: domain.RoleUser, Text: fmt.Sprintf("q%d", i), At: testNow.Add(time.Duration(i) * time.Minute)},
			domain.Turn{Role: domain.RoleAssistant, Text: fmt.Sprintf("a%d", i), At: testNow.Add(time.Duration(i) * time.Minute)},
		))
	}

	recent, err := conversations.Recent(ctx, conversation.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "q2", recent[0].Text)
	assert.Equal(t, "a2", recent[1].Text)

	all, err := conversations.Recent(ctx, conversation.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	assert.ErrorIs(t, conversations.AppendTurns(ctx, "missing", domain.Turn{Text: "x"}), domain.ErrNotFound)
}

func TestStoreWritesPrivateFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Grants().Create(ctx, domain.NewGrantRequest("g-1", "sess-1", "s-1", "Ana", testNow, time.Hour)))

	info, err := os.Stat(filepath.Join(store.Dir(), grantsFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(stateFileMode), info.Mode().Perm())
}

func TestStoreRejectsNewerSchemaVersion(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), grantsFileName), []byte("version = 99\n"), 0o600))

	_, err := store.Grants().ListByStatus(context.Background(), domain.GrantStatusPending)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported grants schema version")
}

func TestStoreCorruptFileIsStoreFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), sessionsFileName), []byte("not = [valid"), 0o600))

	_, err := store.Sessions().GetByID(context.Background(), "sess-1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
