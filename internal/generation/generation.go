// Package generation produces reply text from an assembled prompt.
//
// Generate never returns an error: every outcome is a Result, one of
// Completed, Incomplete or Failed.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/metrics"
)

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ErrInvalidConfig indicates invalid generation configuration.
var ErrInvalidConfig = errors.New("invalid generation configuration")

// Result is the outcome of a generation call.
type Result interface {
	// Kind returns "completed", "incomplete" or "failed".
	Kind() string
	isResult()
}

// Completed carries usable text.
type Completed struct {
	Text string `json:"text"`
}

// Incomplete means the model stopped without usable text.
type Incomplete struct {
	// FinishReason is the backend's stop reason, if any.
	FinishReason string `json:"finish_reason,omitempty"`
}

// Failed means the call did not complete.
type Failed struct {
	Reason string `json:"reason"`
}

func (Completed) Kind() string  { return "completed" }
func (Incomplete) Kind() string { return "incomplete" }
func (Failed) Kind() string     { return "failed" }

func (Completed) isResult()  {}
func (Incomplete) isResult() {}
func (Failed) isResult()     {}

// Generator turns a prompt into a Result.
type Generator interface {
	Generate(ctx context.Context, prompt string) Result
}

// Config configures the generation backend.
type Config struct {
	// Provider is "openai" or "ollama". Empty disables generation.
	Provider string `koanf:"provider"`

	// Model is the backend model name.
	Model string `koanf:"model"`

	// BaseURL overrides the endpoint. For openai it includes the /v1 suffix.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates openai-compatible endpoints.
	APIKey string `koanf:"api_key"`

	// System is prepended as the system message.
	System string `koanf:"system"`

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int `koanf:"max_tokens"`

	// Timeout bounds a single call.
	// Default: 60s
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case ProviderOllama:
			c.Model = "llama3.2"
		}
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "", ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Enabled reports whether a provider is configured.
func (c Config) Enabled() bool {
	return c.Provider != ""
}

// New creates the configured Generator, wrapped with logging and metrics.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		g = NewOpenAI(cfg)
	case ProviderOllama:
		g, err = NewOllama(cfg)
	default:
		return nil, fmt.Errorf("%w: no provider configured", ErrInvalidConfig)
	}
	if err != nil {
		return nil, err
	}
	return &observed{next: g, provider: cfg.Provider, logger: logger}, nil
}

// observed records every Result.
type observed struct {
	next     Generator
	provider string
	logger   *zap.Logger
}

func (o *observed) Generate(ctx context.Context, prompt string) Result {
	start := time.Now()
	res := o.next.Generate(ctx, prompt)
	metrics.GenerationResults.WithLabelValues(o.provider, res.Kind()).Inc()

	fields := []zap.Field{
		zap.String("provider", o.provider),
		zap.String("result", res.Kind()),
		zap.Duration("duration", time.Since(start)),
	}
	if f, ok := res.(Failed); ok {
		o.logger.Warn("generation failed", append(fields, zap.String("reason", f.Reason))...)
	} else {
		o.logger.Debug("generation finished", fields...)
	}
	return res
}
