// Package embed provides text embedding for the message indexer: an OpenAI
// implementation, a deterministic hash-based fake for tests, and "off".
package embed

import (
	"context"
	"fmt"

	"github.com/backscroll/backscroll/internal/config"
)

// Vector is a dense embedding vector.
type Vector []float32

// Embedder turns a batch of texts into vectors.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, inputs []string) ([]Vector, error)
}

// New builds the embedder selected by config. Provider "off" (or "")
// returns nil: indexing is disabled and search degrades to keyword-only.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "off":
		return nil, nil
	case "fake":
		return NewFake(cfg.Dim), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("embedding provider %q not recognized", cfg.Provider)
	}
}
