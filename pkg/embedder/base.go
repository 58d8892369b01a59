// Package embedder is the EmbedText collaborator of the memory engine.
//
// Memories and queries are embedded to compute semantic similarity for
// deduplication and ranking. A failing embedder never blocks ingestion:
// rows are stored without a vector and retried later.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrBadVector is returned by CheckVector.
var ErrBadVector = errors.New("bad embedding vector")

// Provider turns text into vectors. Implemented by the OpenAI client,
// which also serves OpenAI-compatible endpoints such as DashScope.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions is the length of every returned vector, or 0 if the
	// provider does not know it.
	Dimensions() int

	Close() error
}

// CheckVector reports whether vec can be stored for p. Empty vectors,
// vectors of the wrong length and vectors holding NaN or Inf are rejected.
func CheckVector(p Provider, vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty", ErrBadVector)
	}
	if dims := p.Dimensions(); dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrBadVector, len(vec), dims)
	}
	for _, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite component", ErrBadVector)
		}
	}
	return nil
}
