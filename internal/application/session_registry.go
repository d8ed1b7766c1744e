package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	defaultHistoryTurns = 10
	defaultPersona      = "You are the house bartender. Recommend only from the menu context, keep replies short and spoken, and never promise restricted bottles without owner approval."
)

var DefaultContextSegments = []domain.SegmentKey{"cocktails", "spirits", "wine", "beer"}

type CatalogReader interface {
	Get(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error)
}

type SessionRegistryConfig struct {
	HistoryTurns int
	Segments     []domain.SegmentKey
	Persona      string
}

// SessionRegistry owns the live avatar sessions of this process. Metadata is
// persisted; transport handles live only here and are released on close.
type SessionRegistry struct {
	avatar        ports.AvatarProvider
	sessions      ports.SessionRepository
	conversations ports.ConversationRepository
	catalog       CatalogReader
	generator     ports.Generator
	clock         ports.Clock
	logger        *slog.Logger
	cfg           SessionRegistryConfig

	mu   sync.RWMutex
	live map[domain.SessionID]*liveSession
}

// liveSession serializes the turns of one session. mu guards only the
// in-memory state and is never held across provider or store calls.
type liveSession struct {
	turns sync.Mutex

	mu       sync.Mutex
	session  domain.Session
	starting bool
}

func (l *liveSession) snapshot() domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

type SessionRegistryDeps struct {
	Avatar        ports.AvatarProvider
	Sessions      ports.SessionRepository
	Conversations ports.ConversationRepository
	Catalog       CatalogReader
	Generator     ports.Generator
	Clock         ports.Clock
	Logger        *slog.Logger
}

func NewSessionRegistry(deps SessionRegistryDeps, cfg SessionRegistryConfig) *SessionRegistry {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if len(cfg.Segments) == 0 {
		cfg.Segments = DefaultContextSegments
	}
	if strings.TrimSpace(cfg.Persona) == "" {
		cfg.Persona = defaultPersona
	}

	return &SessionRegistry{
		avatar:        deps.Avatar,
		sessions:      deps.Sessions,
		conversations: deps.Conversations,
		catalog:       deps.Catalog,
		generator:     deps.Generator,
		clock:         deps.Clock,
		logger:        deps.Logger,
		cfg:           cfg,
		live:          map[domain.SessionID]*liveSession{},
	}
}

// Create opens a transport with the avatar provider and registers the
// session. The provider session is released again if the metadata cannot
// be persisted.
func (r *SessionRegistry) Create(ctx context.Context, sourceRef string) (domain.Session, error) {
	opened, err := r.avatar.OpenSession(ctx, strings.TrimSpace(sourceRef))
	if err != nil {
		return domain.Session{}, fmt.Errorf("open avatar session: %w", domain.ProviderFailure(err))
	}

	now := r.clock.Now()
	session := domain.Session{
		ID: domain.SessionID(uuid.NewString()),
		Transport: domain.TransportHandle{
			Handle:    opened.Handle,
			SourceRef: strings.TrimSpace(sourceRef),
			Offer:     opened.Offer,
		},
		Status:       domain.SessionStatusCreated,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := r.sessions.Save(ctx, session); err != nil {
		if closeErr := r.avatar.CloseSession(context.WithoutCancel(ctx), opened.Handle); closeErr != nil {
			r.logger.Warn("release avatar session after failed save",
				"handle", opened.Handle,
				"error", closeErr)
		}
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}

	r.mu.Lock()
	r.live[session.ID] = &liveSession{session: session}
	r.mu.Unlock()

	r.logger.Info("session created", "session", session.ID)
	return session, nil
}

// Start completes transport negotiation with the client's answer. A second
// Start racing the first fails with ErrInvalidTransition.
func (r *SessionRegistry) Start(ctx context.Context, id domain.SessionID, answer string) (domain.Session, error) {
	live, err := r.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}

	live.mu.Lock()
	if live.session.Status != domain.SessionStatusCreated || live.starting {
		status := live.session.Status
		live.mu.Unlock()
		return domain.Session{}, fmt.Errorf("start session %s in status %s: %w", id, status, domain.ErrInvalidTransition)
	}
	live.starting = true
	handle := live.session.Transport.Handle
	live.mu.Unlock()

	started, err := r.negotiate(ctx, id, live, handle, answer)

	live.mu.Lock()
	live.starting = false
	if err == nil {
		if closed := live.session; closed.Status == domain.SessionStatusClosed {
			live.mu.Unlock()
			if saveErr := r.sessions.Save(ctx, closed); saveErr != nil {
				r.logger.Warn("restore closed session after start", "session", id, "error", saveErr)
			}
			return domain.Session{}, fmt.Errorf("session %s closed during start: %w", id, domain.ErrNotFound)
		}
		live.session.Status = started.Status
		live.session.StartedAt = started.StartedAt
		live.session.LastActivity = started.LastActivity
		started = live.session
	}
	live.mu.Unlock()
	return started, err
}

// negotiate runs the provider and store calls of Start without holding the
// session lock.
func (r *SessionRegistry) negotiate(ctx context.Context, id domain.SessionID, live *liveSession, handle, answer string) (domain.Session, error) {
	if err := r.avatar.CompleteNegotiation(ctx, handle, answer); err != nil {
		return domain.Session{}, fmt.Errorf("complete negotiation for session %s: %w", id, err)
	}

	now := r.clock.Now()
	started := live.snapshot()
	if started.Status == domain.SessionStatusClosed {
		return domain.Session{}, fmt.Errorf("session %s closed during start: %w", id, domain.ErrNotFound)
	}
	started.Status = domain.SessionStatusStarted
	started.StartedAt = &now
	started.LastActivity = now

	if err := r.sessions.Save(ctx, started); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	return started, nil
}

// SubmitCandidate forwards a transport candidate. Failures are logged, not
// returned; only an unknown session is an error.
func (r *SessionRegistry) SubmitCandidate(ctx context.Context, id domain.SessionID, candidate string) error {
	live, err := r.lookup(id)
	if err != nil {
		return err
	}

	session := live.snapshot()
	if err := r.avatar.SubmitCandidate(ctx, session.Transport.Handle, candidate); err != nil {
		r.logger.Warn("submit transport candidate failed",
			"session", id,
			"error", err)
	}
	return nil
}

// HandleMessage runs one conversational turn: narrowed catalog context,
// generation, persistence of both turns, then dispatch to the avatar. The
// reply is returned even when dispatch fails.
func (r *SessionRegistry) HandleMessage(ctx context.Context, id domain.SessionID, text, requesterID string) (domain.Reply, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Reply{}, fmt.Errorf("message text is required: %w", domain.ErrInvalidInput)
	}

	live, err := r.lookup(id)
	if err != nil {
		return domain.Reply{}, err
	}

	live.turns.Lock()
	defer live.turns.Unlock()

	receivedAt := r.touch(live)

	conversation, err := r.conversations.Resolve(ctx, domain.Conversation{
		ID:          domain.ConversationID(uuid.NewString()),
		SessionID:   id,
		RequesterID: strings.TrimSpace(requesterID),
		CreatedAt:   receivedAt,
		UpdatedAt:   receivedAt,
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("resolve conversation: %w", err)
	}

	history, err := r.conversations.Recent(ctx, conversation.ID, r.cfg.HistoryTurns)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("load conversation history: %w", err)
	}

	prompt, err := r.assemblePrompt(ctx, text)
	if err != nil {
		return domain.Reply{}, err
	}

	generated, err := r.generator.Generate(ctx, prompt, history)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("generate reply: %w", err)
	}

	repliedAt := r.clock.Now()
	if err := r.conversations.AppendTurns(ctx, conversation.ID,
		domain.Turn{Role: domain.RoleUser, Text: strings.TrimSpace(text), At: receivedAt},
		domain.Turn{Role: domain.RoleAssistant, Text: generated.Text, At: repliedAt},
	); err != nil {
		return domain.Reply{}, fmt.Errorf("persist conversation turns: %w", err)
	}

	reply := domain.Reply{
		Text:           generated.Text,
		ConversationID: conversation.ID,
		Usage:          generated.Usage,
		Model:          generated.Model,
	}
	reply.Dispatched = r.dispatch(ctx, id, live, generated.Text)
	r.touch(live)
	return reply, nil
}

// Get returns the session if it is still addressable.
func (r *SessionRegistry) Get(id domain.SessionID) (domain.Session, error) {
	live, err := r.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}
	return live.snapshot(), nil
}

func (r *SessionRegistry) List() []domain.Session {
	lives := r.liveSessions()
	sessions := make([]domain.Session, 0, len(lives))
	for _, live := range lives {
		sessions = append(sessions, live.snapshot())
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Close releases the provider session and forgets it. Closing an unknown
// or already closed session is a no-op.
func (r *SessionRegistry) Close(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	live, ok := r.live[id]
	if ok {
		delete(r.live, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	live.mu.Lock()
	closed := live.session
	closed.Status = domain.SessionStatusClosed
	live.session = closed
	live.mu.Unlock()

	if err := r.avatar.CloseSession(ctx, closed.Transport.Handle); err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("release avatar session failed",
			"session", id,
			"error", err)
	}

	if err := r.sessions.Save(ctx, closed); err != nil {
		return fmt.Errorf("save closed session: %w", err)
	}
	r.logger.Info("session closed", "session", id)
	return nil
}

// SweepIdle closes sessions without activity for at least maxAge.
func (r *SessionRegistry) SweepIdle(ctx context.Context, maxAge time.Duration) (int, error) {
	now := r.clock.Now()

	idle := make([]domain.SessionID, 0)
	for _, live := range r.liveSessions() {
		if session := live.snapshot(); session.Idle(now, maxAge) {
			idle = append(idle, session.ID)
		}
	}

	var errs []error
	for _, id := range idle {
		if err := r.Close(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("close idle session %s: %w", id, err))
		}
	}
	if len(idle) > 0 {
		r.logger.Info("swept idle sessions", "count", len(idle))
	}
	return len(idle), errors.Join(errs...)
}

// CloseAll closes every live session, used on shutdown.
func (r *SessionRegistry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]domain.SessionID, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// liveSessions copies the registered sessions so callers can inspect them
// without holding the registry lock.
func (r *SessionRegistry) liveSessions() []*liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lives := make([]*liveSession, 0, len(r.live))
	for _, live := range r.live {
		lives = append(lives, live)
	}
	return lives
}

func (r *SessionRegistry) lookup(id domain.SessionID) (*liveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live, ok := r.live[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return live, nil
}

func (r *SessionRegistry) touch(live *liveSession) time.Time {
	now := r.clock.Now()
	live.mu.Lock()
	live.session.LastActivity = now
	live.mu.Unlock()
	return now
}

func (r *SessionRegistry) assemblePrompt(ctx context.Context, text string) (string, error) {
	query := buildContextQuery(text, r.cfg.Segments)

	sections := make([]segmentContext, 0, len(query.segments))
	for _, key := range query.segments {
		items, err := r.catalog.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("load catalog context %s: %w", key, err)
		}
		sections = append(sections, segmentContext{key: key, items: narrowItems(items, query.narrow[key])})
	}

	return buildPrompt(r.cfg.Persona, sections, text), nil
}

// dispatch hands the reply to the avatar. A session closed mid-turn, or a
// provider failure, is logged and reported as not dispatched.
func (r *SessionRegistry) dispatch(ctx context.Context, id domain.SessionID, live *liveSession, text string) bool {
	session := live.snapshot()
	if session.Status == domain.SessionStatusClosed {
		r.logger.Warn("session closed before reply dispatch", "session", id)
		return false
	}

	if err := r.avatar.Speak(ctx, session.Transport.Handle, text); err != nil {
		r.logger.Warn("avatar dispatch failed, reply kept",
			"session", id,
			"error", err)
		return false
	}
	return true
}
