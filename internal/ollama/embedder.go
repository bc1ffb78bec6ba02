package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultEmbedModel is used when no model is configured.
const DefaultEmbedModel = "nomic-embed-text"

// ErrNotRunning is returned by EnsureModel when the server is unreachable.
var ErrNotRunning = errors.New("ollama is not running")

// Embedder computes search embeddings with a single Ollama model.
type Embedder struct {
	client *Client
	model  string
}

// NewEmbedder binds client to model.
func NewEmbedder(client *Client, model string) *Embedder {
	if model == "" {
		model = DefaultEmbedModel
	}
	return &Embedder{client: client, model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the model's vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.model, text)
}

// EnsureModel checks that the server is up and pulls model when it is missing.
func EnsureModel(ctx context.Context, c *Client, model string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if !c.IsRunning(ctx) {
		return fmt.Errorf("%w at %s", ErrNotRunning, c.baseURL)
	}
	if c.HasModel(ctx, model) {
		return nil
	}

	logger.Info("pulling embedding model", "model", model)
	last := ""
	err := c.PullModel(ctx, model, func(p PullProgress) {
		if p.Status != last {
			logger.Debug("pull progress", "model", model, "status", p.Status)
			last = p.Status
		}
	})
	if err != nil {
		return fmt.Errorf("pulling embedding model: %w", err)
	}
	return nil
}
