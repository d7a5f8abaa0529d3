// Package embedding converts text into fixed-length vectors via an external
// embedding service.
package embedding

import "context"

// Embedder produces a fixed-length vector for a piece of text. Deterministic
// for a given model version; no side effects.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
