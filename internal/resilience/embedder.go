package resilience

import (
	"context"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// Embedder applies a Guard to every Embed call and reports exhaustion as an embedding failure.
type Embedder struct {
	next  provider.Embedder
	guard *Guard
}

// NewEmbedder wraps next with guard.
func NewEmbedder(next provider.Embedder, guard *Guard) *Embedder {
	return &Embedder{next: next, guard: guard}
}

// Embed implements provider.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	_, err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := e.next.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, failure.Embedding("embed", err)
	}
	return vec, nil
}
