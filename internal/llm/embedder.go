package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
)

// Embedder turns item text into embedding vectors.
type Embedder struct {
	client embeddings.Embedder
	log    zerolog.Logger
	model  string
}

// NewEmbedder creates an embedder for the configured provider.
func NewEmbedder(cfg Config, log zerolog.Logger) (*Embedder, error) {
	client, err := newEmbeddingClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewEmbedderWith(client, cfg.EmbeddingModel, log), nil
}

// NewEmbedderWith wraps an existing langchaingo embedder.
func NewEmbedderWith(client embeddings.Embedder, model string, log zerolog.Logger) *Embedder {
	return &Embedder{
		client: client,
		model:  model,
		log:    log.With().Str("component", "embedder").Logger(),
	}
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := e.client.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.log.Warn().Err(err).Str("model", e.model).Int("textLen", len(text)).Msg("Embedding failed")
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	e.log.Debug().
		Str("model", e.model).
		Int("textLen", len(text)).
		Int("dimension", len(vectors[0])).
		Dur("duration", time.Since(start)).
		Msg("Embedding complete")
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.client.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}
