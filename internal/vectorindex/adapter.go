package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

// Adapter embeds text and reads/writes the index.
type Adapter struct {
	embedder Embedder
	index    Index
	logger   *zap.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(embedder Embedder, index Index, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{embedder: embedder, index: index, logger: logger}
}

// Embed returns the vector for text.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := a.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, inferenceErr(err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", chat.ErrInferenceFailure)
	}
	return v, nil
}

// EmbedBatch returns one vector per text, position i matching texts[i].
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := a.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, inferenceErr(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", chat.ErrInferenceFailure, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector at position %d", chat.ErrInferenceFailure, i)
		}
	}
	return vectors, nil
}

// Upsert writes items to the index.
func (a *Adapter) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	return a.index.Upsert(ctx, items)
}

// DeleteByIDs removes entries. Absent ids are not an error.
func (a *Adapter) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return a.index.Delete(ctx, ids)
}

// Query returns matches for vector, ranked by descending score.
func (a *Adapter) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		return []Match{}, nil
	}
	return a.index.Query(ctx, vector, opts)
}

// UpsertText embeds content and writes a single entry.
func (a *Adapter) UpsertText(ctx context.Context, id string, meta Metadata) error {
	v, err := a.Embed(ctx, meta.Content)
	if err != nil {
		return err
	}
	return a.Upsert(ctx, []Item{{ID: id, Vector: v, Metadata: meta}})
}

// TextEntry is an id with the metadata whose Content is embedded.
type TextEntry struct {
	ID       string
	Metadata Metadata
}

// UpsertTexts embeds all entries in one request and writes them, zipped by index.
func (a *Adapter) UpsertTexts(ctx context.Context, entries []TextEntry) error {
	if len(entries) == 0 {
		return nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Metadata.Content
	}
	vectors, err := a.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	items := make([]Item, len(entries))
	for i, e := range entries {
		items[i] = Item{ID: e.ID, Vector: vectors[i], Metadata: e.Metadata}
	}
	return a.Upsert(ctx, items)
}

// SearchText embeds text and queries the index, restricted to channelID when non-empty.
func (a *Adapter) SearchText(ctx context.Context, text string, topK int, channelID string) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	v, err := a.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	opts := QueryOptions{TopK: topK}
	if channelID != "" {
		opts.Filter = map[string]string{KeyChannelID: channelID}
	}
	matches, err := a.Query(ctx, v, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("similarity search",
		zap.Int("top_k", topK),
		zap.String("channel_id", channelID),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// Close closes the index.
func (a *Adapter) Close() error {
	return a.index.Close()
}

func inferenceErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", chat.ErrInferenceFailure, err)
}
