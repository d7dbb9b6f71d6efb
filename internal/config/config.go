// Package config loads recalld configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/filter"
	"github.com/fyrsmithlabs/recalld/internal/generation"
	httpserver "github.com/fyrsmithlabs/recalld/internal/http"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/relstore"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Vector index providers.
const (
	VectorProviderChromem = "chromem"
	VectorProviderQdrant  = "qdrant"
)

// Config holds the complete recalld configuration.
type Config struct {
	Server      ServerConfig              `koanf:"server"`
	Logging     logging.Config            `koanf:"logging"`
	Store       relstore.Config           `koanf:"store"`
	Embeddings  embeddings.ProviderConfig `koanf:"embeddings"`
	VectorIndex VectorIndexConfig         `koanf:"vectorindex"`
	Filter      FilterConfig              `koanf:"filter"`
	Generation  generation.Config         `koanf:"generation"`
	Events      events.Config             `koanf:"events"`
	Telemetry   telemetry.Config          `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Persona         string        `koanf:"persona"`
	MaxBatchSize    int           `koanf:"max_batch_size"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTP returns the settings consumed by the HTTP server.
func (s ServerConfig) HTTP() *httpserver.Config {
	return &httpserver.Config{
		Host:         s.Host,
		Port:         s.Port,
		Persona:      s.Persona,
		MaxBatchSize: s.MaxBatchSize,
	}
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	// Provider is "chromem" (embedded) or "qdrant".
	Provider string                    `koanf:"provider"`
	Chromem  vectorindex.ChromemConfig `koanf:"chromem"`
	Qdrant   vectorindex.QdrantConfig  `koanf:"qdrant"`
}

// FilterConfig holds ingestion filter settings.
type FilterConfig struct {
	MinLength     int    `koanf:"min_length"`
	CommandPrefix string `koanf:"command_prefix"`
}

// Rules converts the settings into filter rules.
func (f FilterConfig) Rules() filter.Rules {
	return filter.Rules{MinLength: f.MinLength, CommandPrefix: f.CommandPrefix}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			MaxBatchSize:    500,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: *logging.NewDefaultConfig(),
		Store: relstore.Config{
			Driver: relstore.DriverSQLite,
		},
		Embeddings: embeddings.ProviderConfig{
			Provider: embeddings.ProviderTEI,
		},
		VectorIndex: VectorIndexConfig{
			Provider: VectorProviderChromem,
			Chromem: vectorindex.ChromemConfig{
				Path:     "~/.config/recalld/vectorindex",
				Compress: true,
			},
		},
		Filter: FilterConfig{
			MinLength:     filter.DefaultMinLength,
			CommandPrefix: filter.DefaultCommandPrefix,
		},
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// applyDefaults fills provider dependent values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBatchSize == 0 {
		cfg.Server.MaxBatchSize = 500
	}
	if cfg.VectorIndex.Provider == "" {
		cfg.VectorIndex.Provider = VectorProviderChromem
	}
	cfg.Store.ApplyDefaults()
	cfg.Embeddings.ApplyDefaults()
	cfg.VectorIndex.Chromem.ApplyDefaults()
	cfg.VectorIndex.Qdrant.ApplyDefaults()
	cfg.Generation.ApplyDefaults()
	cfg.Events.ApplyDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %d", c.Server.Port))
	}
	if c.Server.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_batch_size must be > 0"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be > 0"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := c.Embeddings.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("embeddings: %w", err))
	}
	switch c.VectorIndex.Provider {
	case VectorProviderChromem:
		if err := vectorindex.ValidateCollectionName(c.VectorIndex.Chromem.Collection); err != nil {
			errs = append(errs, fmt.Errorf("vectorindex.chromem: %w", err))
		}
	case VectorProviderQdrant:
		// vector_size may be left to the embedding model and is checked at startup.
		if err := vectorindex.ValidateCollectionName(c.VectorIndex.Qdrant.Collection); err != nil {
			errs = append(errs, fmt.Errorf("vectorindex.qdrant: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("vectorindex.provider: unknown provider %q (supported: chromem, qdrant)", c.VectorIndex.Provider))
	}
	if c.Filter.MinLength < 0 {
		errs = append(errs, fmt.Errorf("filter.min_length must be >= 0"))
	}
	if err := c.Generation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("generation: %w", err))
	}
	if err := c.Events.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}
