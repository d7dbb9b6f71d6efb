package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings.
type Provider interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the vector of a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Provider names.
const (
	ProviderTEI       = "tei"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderFastEmbed = "fastembed"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of tei, openai, ollama or fastembed.
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the endpoint for tei, openai and ollama.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against OpenAI compatible endpoints.
	APIKey string `koanf:"api_key"`

	// Dimension overrides the detected model dimension.
	Dimension int `koanf:"dimension"`

	// Timeout bounds each HTTP request. Zero means 60s.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the limiter burst size. Zero means 1.
	RateBurst int `koanf:"rate_burst"`

	// CacheDir is the model cache directory (fastembed only).
	CacheDir string `koanf:"cache_dir"`

	// InstallRuntime downloads the ONNX runtime when missing (fastembed only).
	InstallRuntime bool `koanf:"install_runtime"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ProviderConfig) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderTEI
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Model = "text-embedding-3-small"
		case ProviderOllama:
			c.Model = "nomic-embed-text"
		default:
			c.Model = "BAAI/bge-small-en-v1.5"
		}
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderTEI:
			c.BaseURL = "http://localhost:8080"
		case ProviderOpenAI:
			c.BaseURL = "https://api.openai.com/v1"
		case ProviderOllama:
			c.BaseURL = "http://localhost:11434"
		}
	}
}

// Validate validates the configuration.
func (c ProviderConfig) Validate() error {
	switch c.Provider {
	case ProviderTEI, ProviderOpenAI, ProviderOllama:
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required for %s", ErrInvalidConfig, c.Provider)
		}
	case ProviderFastEmbed:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates the configured provider, rate limited and instrumented.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(cfg)
	case ProviderOllama:
		p, err = NewOllamaProvider(cfg)
	case ProviderFastEmbed:
		if cfg.InstallRuntime {
			if _, err := EnsureONNXRuntime(context.Background(), logger); err != nil {
				return nil, err
			}
		}
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		p, err = NewTEIProvider(cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		p = WithRateLimit(p, cfg.RateLimit, cfg.RateBurst)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
	)
	return Instrument(p, cfg.Model, NewMetrics(logger)), nil
}

// DetectDimension returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func DetectDimension(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

// knownDimensions lists the vector sizes of models in common use.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
	"nomic-embed-text":                       768,
	"mxbai-embed-large":                      1024,
}

func dimensionFor(cfg ProviderConfig) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	return DetectDimension(cfg.Model)
}

// checkBatch verifies a backend returned one non-empty vector per input.
func checkBatch(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at position %d", ErrEmbeddingFailed, i)
		}
	}
	return nil
}
