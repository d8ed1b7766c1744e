package ports

import "context"

// SecretStore keeps credentials out of the config file. Get on a missing key
// fails with domain.ErrNotFound.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
