package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/venue-concierge/internal/adapters/secrets/file"
	passstore "github.com/bnema/venue-concierge/internal/adapters/secrets/pass"
	"github.com/bnema/venue-concierge/internal/ports"
)

// Store reads and writes through primary and falls back to fallback when
// primary fails, so hosts without pass still work from plain files.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}
	return &Store{primary: primary, fallback: fallback}, nil
}

func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(fileRoot))
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil || shouldSkipFallback(err) {
		return err
	}

	if fallbackErr := s.fallback.Put(ctx, key, value); fallbackErr != nil {
		return fmt.Errorf("put secret %q: %w", key, errors.Join(err, fallbackErr))
	}
	return nil
}

// Get also consults fallback when primary has no such entry. The result is
// domain.ErrNotFound only when neither backend has the key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil || shouldSkipFallback(err) {
		return value, err
	}

	value, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return value, nil
	}
	return "", fmt.Errorf("get secret %q: %w", key, errors.Join(err, fallbackErr))
}

// Delete removes the key from both backends so a stale fallback copy cannot
// resurface after the primary entry is gone.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	switch {
	case err == nil || fallbackErr == nil:
		return nil
	default:
		return fmt.Errorf("delete secret %q: %w", key, errors.Join(err, fallbackErr))
	}
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
