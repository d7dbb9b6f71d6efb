package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	ollama "github.com/ollama/ollama/api"
)

// OllamaProvider embeds through a local Ollama daemon.
type OllamaProvider struct {
	client    *ollama.Client
	model     string
	dimension int
}

// NewOllamaProvider creates an Ollama client for cfg.BaseURL.
func NewOllamaProvider(cfg ProviderConfig) (*OllamaProvider, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama URL %q", ErrInvalidConfig, cfg.BaseURL)
	}
	return &OllamaProvider{
		client:    ollama.NewClient(u, &http.Client{Timeout: cfg.Timeout}),
		model:     cfg.Model,
		dimension: dimensionFor(cfg),
	}, nil
}

// EmbedDocuments sends all texts in one /api/embed request.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	res, err := p.client.Embed(ctx, &ollama.EmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := checkBatch(res.Embeddings, len(texts)); err != nil {
		return nil, err
	}
	return res.Embeddings, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	res, err := p.client.Embed(ctx, &ollama.EmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := checkBatch(res.Embeddings, 1); err != nil {
		return nil, err
	}
	return res.Embeddings[0], nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OllamaProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *OllamaProvider) Close() error {
	return nil
}
