package application

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/bnema/venue-concierge/internal/codec"
	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	DefaultHubCapacity = 100
	defaultHubMailbox  = 256
)

type NotificationHubConfig struct {
	// Capacity is the number of most recent events kept in history.
	Capacity int
	// Mailbox bounds each subscriber's undelivered backlog. When a slow
	// subscriber falls this far behind, its oldest pending events are
	// dropped.
	Mailbox int
}

// NotificationHub keeps a bounded newest-first history of owner events and
// fans each published event out to subscribers. Every subscriber is drained
// by its own goroutine, so a slow or panicking callback never blocks the
// publisher or other subscribers.
type NotificationHub struct {
	clock  ports.Clock
	logger *slog.Logger
	cfg    NotificationHubConfig

	mu          sync.Mutex
	events      []domain.Notification
	unread      int
	subscribers map[uint64]*subscriber
	nextSubID   uint64
}

var _ ports.EventPublisher = (*NotificationHub)(nil)

func NewNotificationHub(clock ports.Clock, logger *slog.Logger, cfg NotificationHubConfig) *NotificationHub {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultHubCapacity
	}
	if cfg.Mailbox <= 0 {
		cfg.Mailbox = defaultHubMailbox
	}

	return &NotificationHub{
		clock:       clock,
		logger:      logger,
		cfg:         cfg,
		events:      make([]domain.Notification, 0, cfg.Capacity),
		subscribers: map[uint64]*subscriber{},
	}
}

// Publish records the event and schedules delivery to every current
// subscriber. The payload is encoded immediately, so later mutation by the
// producer never reaches history or subscribers.
func (h *NotificationHub) Publish(kind domain.NotificationKind, payload any) (domain.Notification, error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	event := domain.Notification{
		ID:        domain.NotificationID(uuid.NewString()),
		CreatedAt: h.clock.Now(),
		Kind:      kind,
		Payload:   encoded,
	}

	h.mu.Lock()
	h.events = append(h.events, domain.Notification{})
	copy(h.events[1:], h.events)
	h.events[0] = event
	h.unread++
	if len(h.events) > h.cfg.Capacity {
		evicted := h.events[len(h.events)-1]
		h.events = h.events[:len(h.events)-1]
		if !evicted.Read {
			h.unread--
		}
	}
	// Enqueued under mu so every mailbox sees events in history order.
	for _, sub := range h.subscribers {
		sub.enqueue(cloneNotification(event))
	}
	h.mu.Unlock()

	return cloneNotification(event), nil
}

// Subscribe registers callback for every event published from now on. The
// returned func unregisters it and discards anything still queued for the
// subscriber; a callback already running is allowed to finish.
func (h *NotificationHub) Subscribe(callback func(domain.Notification)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextSubID++
	sub := newSubscriber(h.nextSubID, callback, h.cfg.Mailbox, h.logger)
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, sub.id)
			h.mu.Unlock()
			sub.stop()
		})
	}
}

func (h *NotificationHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// List returns up to limit events, newest first. limit <= 0 means all
// retained events.
func (h *NotificationHub) List(limit int, unreadOnly bool) []domain.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Notification, 0, len(h.events))
	for _, event := range h.events {
		if unreadOnly && event.Read {
			continue
		}
		out = append(out, cloneNotification(event))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *NotificationHub) MarkRead(id domain.NotificationID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.events {
		if h.events[i].ID != id {
			continue
		}
		if !h.events[i].Read {
			h.events[i].Read = true
			h.unread--
		}
		return nil
	}
	return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
}

func (h *NotificationHub) MarkAllRead() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	marked := h.unread
	for i := range h.events {
		h.events[i].Read = true
	}
	h.unread = 0
	return marked
}

func (h *NotificationHub) UnreadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unread
}

// Close unregisters every subscriber.
func (h *NotificationHub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = map[uint64]*subscriber{}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func cloneNotification(event domain.Notification) domain.Notification {
	event.Payload = append([]byte(nil), event.Payload...)
	return event
}

type subscriber struct {
	id       uint64
	callback func(domain.Notification)
	limit    int
	logger   *slog.Logger

	mu      sync.Mutex
	pending *queue.Queue
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newSubscriber(id uint64, callback func(domain.Notification), limit int, logger *slog.Logger) *subscriber {
	return &subscriber{
		id:       id,
		callback: callback,
		limit:    limit,
		logger:   logger,
		pending:  queue.New(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *subscriber) enqueue(event domain.Notification) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.pending.Length() >= s.limit {
		dropped := s.pending.Remove().(domain.Notification)
		s.logger.Warn("notification subscriber lagging, dropped oldest undelivered event",
			"subscriber", s.id,
			"notification", dropped.ID)
	}
	s.pending.Add(event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.pending.Length() == 0 {
		return domain.Notification{}, false
	}
	return s.pending.Remove().(domain.Notification), true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			event, ok := s.next()
			if !ok {
				break
			}
			s.deliver(event)
		}
	}
}

func (s *subscriber) deliver(event domain.Notification) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("notification subscriber panicked",
				"subscriber", s.id,
				"notification", event.ID,
				"panic", recovered)
		}
	}()
	s.callback(event)
}

func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for s.pending.Length() > 0 {
		s.pending.Remove()
	}
	close(s.done)
}
