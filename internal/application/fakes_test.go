package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

var testStart = time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCatalog counts loads and can block them on gate or fail them.
type fakeCatalog struct {
	mu       sync.Mutex
	segments map[domain.SegmentKey][]domain.CatalogItem
	loads    atomic.Int64
	entered  chan struct{}
	gate     chan struct{}
	failWith error
}

func newFakeCatalog(items ...domain.CatalogItem) *fakeCatalog {
	c := &fakeCatalog{segments: map[domain.SegmentKey][]domain.CatalogItem{}}
	for _, item := range items {
		c.segments[item.Segment] = append(c.segments[item.Segment], item)
	}
	return c
}

func (c *fakeCatalog) LoadSegment(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error) {
	c.loads.Add(1)
	if c.entered != nil {
		select {
		case c.entered <- struct{}{}:
		default:
		}
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	return domain.CloneItems(c.segments[key]), nil
}

func (c *fakeCatalog) FindItem(_ context.Context, id domain.ItemID) (domain.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, items := range c.segments {
		for _, item := range items {
			if item.ID == id {
				return item, nil
			}
		}
	}
	return domain.CatalogItem{}, domain.ErrNotFound
}

func (c *fakeCatalog) ReplaceSegment(_ context.Context, key domain.SegmentKey, items []domain.CatalogItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments[key] = domain.CloneItems(items)
	return nil
}

func (c *fakeCatalog) Segments(context.Context) ([]domain.SegmentKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]domain.SegmentKey, 0, len(c.segments))
	for key := range c.segments {
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *fakeCatalog) setFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

// watchingCatalog adds change notifications to fakeCatalog.
type watchingCatalog struct {
	*fakeCatalog
	mu       sync.Mutex
	watchers map[string][]func()
}

func (c *watchingCatalog) Watch(_ context.Context, collection string, onChange func()) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		c.watchers = map[string][]func(){}
	}
	c.watchers[collection] = append(c.watchers[collection], onChange)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, collection)
	}, nil
}

func (c *watchingCatalog) watching(collection string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers[collection]) > 0
}

func (c *watchingCatalog) notify(collection string) {
	c.mu.Lock()
	callbacks := append([]func(){}, c.watchers[collection]...)
	c.mu.Unlock()
	for _, callback := range callbacks {
		callback()
	}
}

type inMemoryGrantRepo struct {
	mu       sync.Mutex
	requests map[domain.GrantID]domain.GrantRequest
	creates  int
	failWith error
}

var _ ports.GrantRepository = (*inMemoryGrantRepo)(nil)

func newInMemoryGrantRepo() *inMemoryGrantRepo {
	return &inMemoryGrantRepo{requests: map[domain.GrantID]domain.GrantRequest{}}
}

func (r *inMemoryGrantRepo) Create(_ context.Context, request domain.GrantRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	for _, existing := range r.requests {
		if existing.PairKey() == request.PairKey() && existing.Outstanding(request.RequestedAt) {
			return domain.ErrDuplicate
		}
	}
	r.requests[request.ID] = request
	r.creates++
	return nil
}

func (r *inMemoryGrantRepo) GetByID(_ context.Context, id domain.GrantID) (domain.GrantRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return domain.GrantRequest{}, domain.ErrNotFound
	}
	return request, nil
}

func (r *inMemoryGrantRepo) FindOutstanding(_ context.Context, session domain.SessionID, item domain.ItemID, now time.Time) (domain.GrantRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return domain.GrantRequest{}, r.failWith
	}
	for _, request := range r.requests {
		if request.SessionID == session && request.ItemID == item && request.Outstanding(now) {
			return request, nil
		}
	}
	return domain.GrantRequest{}, domain.ErrNotFound
}

func (r *inMemoryGrantRepo) Transition(_ context.Context, from domain.GrantStatus, request domain.GrantRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[request.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != from {
		return domain.ErrAlreadyResolved
	}
	r.requests[request.ID] = request
	return nil
}

func (r *inMemoryGrantRepo) ListByStatus(_ context.Context, status domain.GrantStatus) ([]domain.GrantRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.GrantRequest, 0)
	for _, request := range r.requests {
		if request.Status == status {
			out = append(out, request)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *inMemoryGrantRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, request := range r.requests {
		if request.Expired(now) {
			delete(r.requests, id)
			removed++
		}
	}
	return removed, nil
}

func (r *inMemoryGrantRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type inMemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
	failWith error
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{sessions: map[domain.SessionID]domain.Session{}}
}

func (r *inMemorySessionRepo) Save(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *inMemorySessionRepo) GetByID(_ context.Context, id domain.SessionID) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (r *inMemorySessionRepo) Delete(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

type inMemoryConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	turns         map[domain.ConversationID][]domain.Turn
	appendErr     error
}

func newInMemoryConversationRepo() *inMemoryConversationRepo {
	return &inMemoryConversationRepo{
		conversations: map[string]domain.Conversation{},
		turns:         map[domain.ConversationID][]domain.Turn{},
	}
}

func (r *inMemoryConversationRepo) Resolve(_ context.Context, candidate domain.Conversation) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(candidate.SessionID) + "|" + candidate.RequesterID
	if existing, ok := r.conversations[key]; ok {
		return existing, nil
	}
	r.conversations[key] = candidate
	return candidate, nil
}

func (r *inMemoryConversationRepo) AppendTurns(_ context.Context, id domain.ConversationID, turns ...domain.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.turns[id] = append(r.turns[id], turns...)
	return nil
}

func (r *inMemoryConversationRepo) Recent(_ context.Context, id domain.ConversationID, limit int) ([]domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := r.turns[id]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.Turn(nil), turns...), nil
}

func (r *inMemoryConversationRepo) turnsFor(id domain.ConversationID) []domain.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Turn(nil), r.turns[id]...)
}

type fakeAvatar struct {
	mu         sync.Mutex
	nextHandle int
	open       map[string]bool
	spoken     []string
	candidates []string
	openErr    error
	speakErr   error
	answerErr  error
	candErr    error
	closes     int
	onSpeak    func()

	// negotiating is signalled and negotiateGate awaited before an answer
	// is accepted, when set.
	negotiating   chan struct{}
	negotiateGate chan struct{}
}

func newFakeAvatar() *fakeAvatar { return &fakeAvatar{open: map[string]bool{}} }

func (a *fakeAvatar) OpenSession(_ context.Context, sourceRef string) (ports.AvatarSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return ports.AvatarSession{}, a.openErr
	}
	a.nextHandle++
	handle := fmt.Sprintf("handle-%d", a.nextHandle)
	a.open[handle] = true
	return ports.AvatarSession{Handle: handle, Offer: "v=0 offer for " + sourceRef}, nil
}

func (a *fakeAvatar) CompleteNegotiation(ctx context.Context, handle, _ string) error {
	if a.negotiating != nil {
		a.negotiating <- struct{}{}
	}
	if a.negotiateGate != nil {
		select {
		case <-a.negotiateGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open[handle] {
		return domain.ErrNotFound
	}
	return a.answerErr
}

func (a *fakeAvatar) SubmitCandidate(_ context.Context, handle, candidate string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.candErr != nil {
		return a.candErr
	}
	a.candidates = append(a.candidates, candidate)
	return nil
}

func (a *fakeAvatar) Speak(_ context.Context, handle, text string) error {
	if a.onSpeak != nil {
		a.onSpeak()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open[handle] {
		return errors.Join(domain.ErrProviderUnavailable, domain.ErrNotFound)
	}
	if a.speakErr != nil {
		return a.speakErr
	}
	a.spoken = append(a.spoken, text)
	return nil
}

func (a *fakeAvatar) CloseSession(_ context.Context, handle string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	delete(a.open, handle)
	return nil
}

func (a *fakeAvatar) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

type fakeGenerator struct {
	mu       sync.Mutex
	prompts  []string
	history  [][]domain.Turn
	reply    string
	err      error
	calls    int
	onCalled func()
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, history []domain.Turn) (ports.Generation, error) {
	if g.onCalled != nil {
		g.onCalled()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.history = append(g.history, append([]domain.Turn(nil), history...))
	if g.err != nil {
		return ports.Generation{}, g.err
	}
	return ports.Generation{
		Text:  g.reply,
		Usage: domain.Usage{InputTokens: 120, OutputTokens: 30},
		Model: "test-model",
	}, nil
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}
