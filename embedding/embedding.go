// Package embedding turns raw text into vectors through an external
// embedding service.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailed is wrapped by every embedder failure: transport errors,
// non-2xx responses and malformed payloads alike.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Embedder produces the vector for a piece of text. Implementations must be
// deterministic for identical input so repeated queries return stable search
// results.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// The Func type is an adapter to allow ordinary functions as embedders.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
