// Package redis keeps the coordination state in Redis so several concierge
// processes can share grants and catalog invalidations.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/bnema/venue-concierge/internal/codec"
	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	addrKey     = "redis.addr"
	passwordKey = "redis.password"
	dbKey       = "redis.db"
	prefixKey   = "redis.prefix"

	defaultAddr   = "127.0.0.1:6379"
	defaultPrefix = "concierge:"
	pingTimeout   = 2 * time.Second

	// maxTxAttempts bounds optimistic WATCH retries before giving up.
	maxTxAttempts = 5
)

type Store struct {
	client *goredis.Client
	prefix string
}

var (
	_ ports.CatalogRepository      = (*CatalogRepository)(nil)
	_ ports.ChangeNotifier         = (*CatalogRepository)(nil)
	_ ports.GrantRepository        = (*GrantRepository)(nil)
	_ ports.SessionRepository      = (*SessionRepository)(nil)
	_ ports.ConversationRepository = (*ConversationRepository)(nil)
)

type (
	CatalogRepository      struct{ store *Store }
	GrantRepository        struct{ store *Store }
	SessionRepository      struct{ store *Store }
	ConversationRepository struct{ store *Store }
)

func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{store: s} }
func (s *Store) Grants() *GrantRepository { return &GrantRepository{store: s} }
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{store: s} }
func (s *Store) Conversations() *ConversationRepository { return &ConversationRepository{store: s} }

// Open connects using the redis.* keys of cfg and verifies the server
// answers a PING.
func Open(ctx context.Context, cfg *viper.Viper) (*Store, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	addr := cfg.GetString(addrKey)
	if addr == "" {
		addr = defaultAddr
	}
	prefix := defaultPrefix
	if cfg.IsSet(prefixKey) {
		prefix = cfg.GetString(prefixKey)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.GetString(passwordKey),
		DB:       cfg.GetInt(dbKey),
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.StoreFailure(fmt.Errorf("ping redis at %s: %w", addr, err))
	}

	return NewStore(client, prefix), nil
}

func NewStore(client *goredis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error { return s.client.Close() }

// Watch subscribes to the change channel of collection. onChange runs on the
// subscription goroutine.
func (r *CatalogRepository) Watch(ctx context.Context, collection string, onChange func()) (func(), error) {
	s := r.store
	pubsub := s.client.Subscribe(context.WithoutCancel(ctx), s.changeChannel(collection))
	// Receive blocks until the subscription is confirmed, so a write that
	// follows Watch is never missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, domain.StoreFailure(fmt.Errorf("subscribe %s: %w", collection, err))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range pubsub.Channel() {
			onChange()
		}
	}()

	return func() {
		_ = pubsub.Close()
		<-done
	}, nil
}

func (s *Store) publishChange(ctx context.Context, collection string) error {
	return s.client.Publish(ctx, s.changeChannel(collection), collection).Err()
}

func (s *Store) changeChannel(collection string) string { return s.prefix + "changes:" + collection }

func (s *Store) key(parts ...string) string {
	key := s.prefix
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}

func (s *Store) getDocument(ctx context.Context, key string, v any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return classify(err)
	}
	if err := decodeDocument(raw, v); err != nil {
		return domain.StoreFailure(fmt.Errorf("decode %s: %w", key, err))
	}
	return nil
}

func decodeDocument(raw []byte, v any) error { return codec.Unmarshal(raw, v) }

// transact runs fn under WATCH on keys and retries when another client
// touched them before EXEC.
func (s *Store) transact(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

func encode(v any) ([]byte, error) {
	raw, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

// classify maps redis.Nil to domain.ErrNotFound and tags everything else as
// a store failure. Domain and context errors pass through untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.Nil):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.StoreFailure(err)
	}
}

// ttlUntil is the PX argument for a key that should live until expiresAt.
// Redis rejects non-positive expirations, so already-lapsed records get the
// smallest one.
func ttlUntil(now, expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
