package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

var chromemTracer = otel.Tracer("recalld.vectorindex.chromem")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index in memory.
	Path string `koanf:"path"`

	// Compress enables gzip compression for persisted documents.
	Compress bool `koanf:"compress"`

	// Collection is the collection name.
	// Default: "messages"
	Collection string `koanf:"collection"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "messages"
	}
}

// ChromemIndex implements Index on chromem-go.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger

	// beforeQuery runs between the count read and the query; tests only.
	beforeQuery func()
}

// errNoEmbeddingFunc is returned if chromem ever tries to embed on its own;
// every write and query here carries a precomputed vector.
var errNoEmbeddingFunc = errors.New("chromem: embeddings must be precomputed")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// NewChromemIndex opens (or creates) the index.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %w", chat.ErrStoreFailure, err)
		}
	}

	// The embedding func must not be nil: chromem falls back to OpenAI for nil.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %w", chat.ErrStoreFailure, cfg.Collection, err)
	}

	logger.Info("chromem index ready",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", collection.Count()),
	)
	return &ChromemIndex{db: db, collection: collection, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Upsert implements Index. chromem replaces documents with an existing id.
func (c *ChromemIndex) Upsert(ctx context.Context, items []Item) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("item_count", len(items)))

	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		if it.ID == "" {
			return fmt.Errorf("%w: item at index %d has no id", chat.ErrInvalidInput, i)
		}
		docs[i] = chromem.Document{
			ID:        it.ID,
			Content:   it.Metadata.Content,
			Metadata:  it.Metadata.Fields(),
			Embedding: it.Vector,
		}
	}

	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: chromem upsert: %w", chat.ErrStoreFailure, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete implements Index.
func (c *ChromemIndex) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: chromem delete: %w", chat.ErrStoreFailure, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Index.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", opts.TopK))

	if opts.TopK <= 0 {
		return []Match{}, nil
	}

	var where map[string]string
	if len(opts.Filter) > 0 {
		where = opts.Filter
	}

	results, err := c.queryClamped(ctx, vector, opts.TopK, where)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: chromem query: %w", chat.ErrStoreFailure, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Score: r.Similarity, Metadata: MetadataFromFields(r.Metadata)}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// queryRetries bounds re-clamping when deletes shrink the collection
// between Count and QueryEmbedding.
const queryRetries = 3

// queryClamped runs QueryEmbedding with nResults capped at the document
// count, which chromem requires. A failure after the collection shrank is
// retried with the new count.
func (c *ChromemIndex) queryClamped(ctx context.Context, vector []float32, topK int, where map[string]string) ([]chromem.Result, error) {
	var err error
	for attempt := 0; attempt < queryRetries; attempt++ {
		k := min(topK, c.collection.Count())
		if k == 0 {
			return nil, nil
		}
		if c.beforeQuery != nil {
			c.beforeQuery()
		}
		var results []chromem.Result
		results, err = c.collection.QueryEmbedding(ctx, vector, k, where, nil)
		if err == nil {
			return results, nil
		}
		if c.collection.Count() >= k {
			return nil, err
		}
		c.logger.Debug("collection shrank during query, retrying",
			zap.Int("n_results", k),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, err
}

// Count returns the number of stored entries.
func (c *ChromemIndex) Count() int {
	return c.collection.Count()
}

// Close is a no-op; persistent chromem writes through on every change.
func (c *ChromemIndex) Close() error {
	return nil
}

var _ Index = (*ChromemIndex)(nil)
