package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/assembler"
	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/coordinator"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/generation"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/relstore"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// app holds the wired services shared by every command.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	store       relstore.Store
	embedder    embeddings.Provider
	vectors     *vectorindex.Adapter
	coordinator *coordinator.Coordinator
	assembler   *assembler.Assembler
	generator   generation.Generator
}

// loadConfig loads configuration and builds the logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(&cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// newApp connects the stores and builds the services. On error every
// resource opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	z := logger.Underlying()

	a.store, err = relstore.Open(ctx, cfg.Store, z.Named("relstore"))
	if err != nil {
		return nil, fmt.Errorf("opening relational store: %w", err)
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, z.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	index, err := openIndex(ctx, cfg.VectorIndex, a.embedder.Dimension(), z.Named("vectorindex"))
	if err != nil {
		return nil, err
	}
	a.vectors = vectorindex.NewAdapter(a.embedder, index, z.Named("vectorindex"))

	a.coordinator, err = coordinator.New(a.store, a.vectors,
		coordinator.WithRules(cfg.Filter.Rules()),
		coordinator.WithLogger(z.Named("coordinator")),
	)
	if err != nil {
		return nil, err
	}
	a.assembler = assembler.New(a.store, a.store, a.vectors, z.Named("assembler"))

	if cfg.Generation.Enabled() {
		a.generator, err = generation.New(cfg.Generation, z.Named("generation"))
		if err != nil {
			return nil, fmt.Errorf("creating generator: %w", err)
		}
	}

	logger.Info(ctx, "services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("vectorindex", cfg.VectorIndex.Provider),
		zap.Bool("generation", a.generator != nil),
	)
	return a, nil
}

func openIndex(ctx context.Context, cfg config.VectorIndexConfig, dimension int, logger *zap.Logger) (vectorindex.Index, error) {
	switch cfg.Provider {
	case config.VectorProviderQdrant:
		qcfg := cfg.Qdrant
		if qcfg.VectorSize == 0 {
			if dimension <= 0 {
				return nil, errors.New("vectorindex.qdrant.vector_size is required when the embedding dimension is unknown")
			}
			qcfg.VectorSize = uint64(dimension)
		}
		return vectorindex.NewQdrantIndex(ctx, qcfg, logger)
	default:
		return vectorindex.NewChromemIndex(cfg.Chromem, logger)
	}
}

// Close releases every opened resource.
func (a *app) Close() {
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			a.logger.Underlying().Warn("closing vector index", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Underlying().Warn("closing embedder", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Underlying().Warn("closing relational store", zap.Error(err))
		}
	}
}
