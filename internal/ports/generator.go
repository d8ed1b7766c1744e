package ports

import (
	"context"

	"github.com/bnema/venue-concierge/internal/domain"
)

type Generation struct {
	Text  string
	Usage domain.Usage
	Model string
}

// Generator is the external natural-language pipeline. prompt already embeds
// the catalog context.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []domain.Turn) (Generation, error)
}
