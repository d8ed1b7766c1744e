package ports

import "context"

type AvatarSession struct {
	Handle string
	Offer  string
}

// AvatarProvider drives the streamed avatar. Unknown handles fail with
// domain.ErrNotFound; transport or upstream failures with
// domain.ErrProviderUnavailable.
type AvatarProvider interface {
	OpenSession(ctx context.Context, sourceRef string) (AvatarSession, error)
	CompleteNegotiation(ctx context.Context, handle, answer string) error
	SubmitCandidate(ctx context.Context, handle, candidate string) error
	Speak(ctx context.Context, handle, text string) error
	CloseSession(ctx context.Context, handle string) error
}
