package generation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
)

// Ollama generates with a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
	system string
	opts   map[string]any
}

// NewOllama creates an Ollama generator.
func NewOllama(cfg Config) (*Ollama, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama url %q", ErrInvalidConfig, cfg.BaseURL)
	}
	o := &Ollama{
		client: ollama.NewClient(u, &http.Client{Timeout: cfg.Timeout}),
		model:  cfg.Model,
		system: cfg.System,
	}
	if cfg.MaxTokens > 0 {
		o.opts = map[string]any{"num_predict": cfg.MaxTokens}
	}
	return o, nil
}

// Generate implements Generator. Streamed chunks are concatenated.
func (o *Ollama) Generate(ctx context.Context, prompt string) Result {
	var (
		text strings.Builder
		last ollama.GenerateResponse
	)
	req := &ollama.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		System:  o.system,
		Options: o.opts,
	}
	err := o.client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		last = gr
		return nil
	})
	if err != nil {
		return Failed{Reason: err.Error()}
	}

	out := strings.TrimSpace(text.String())
	if out == "" || !last.Done {
		return Incomplete{FinishReason: last.DoneReason}
	}
	return Completed{Text: out}
}
