// Package vectorindex stores message embeddings for similarity recall.
//
// An Adapter pairs an Embedder (the inference endpoint) with an Index
// (chromem-go embedded or Qdrant over gRPC). Entries are keyed by message id
// so every write is idempotent.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Embedder produces vectors from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Metadata is duplicated from the relational record into every vector entry.
type Metadata struct {
	Content   string    `json:"content"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata keys as stored by backends and accepted by QueryOptions.Filter.
const (
	KeyContent   = "content"
	KeyChannelID = "channel_id"
	KeyUserID    = "user_id"
	KeyUsername  = "username"
	KeyTimestamp = "timestamp"
)

// Fields flattens m into string key/value pairs.
func (m Metadata) Fields() map[string]string {
	f := map[string]string{
		KeyContent:   m.Content,
		KeyChannelID: m.ChannelID,
		KeyUserID:    m.UserID,
		KeyUsername:  m.Username,
	}
	if !m.Timestamp.IsZero() {
		f[KeyTimestamp] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return f
}

// MetadataFromFields is the inverse of Metadata.Fields. Unknown keys are ignored.
func MetadataFromFields(f map[string]string) Metadata {
	m := Metadata{
		Content:   f[KeyContent],
		ChannelID: f[KeyChannelID],
		UserID:    f[KeyUserID],
		Username:  f[KeyUsername],
	}
	if ts, err := time.Parse(time.RFC3339Nano, f[KeyTimestamp]); err == nil {
		m.Timestamp = ts.UTC()
	}
	return m
}

// Item is one vector entry.
type Item struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a query hit.
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// QueryOptions bounds and filters a similarity query.
type QueryOptions struct {
	// TopK is the maximum number of matches.
	TopK int

	// Filter restricts matches to entries whose metadata equals every pair.
	Filter map[string]string
}

// Index is a vector store backend. Implementations wrap backend errors
// with chat.ErrStoreFailure.
type Index interface {
	// Upsert inserts or replaces entries by id.
	Upsert(ctx context.Context, items []Item) error
	// Delete removes entries by id. Absent ids are ignored.
	Delete(ctx context.Context, ids []string) error
	// Query returns up to opts.TopK matches ranked by descending score.
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)
	// Close releases backend resources.
	Close() error
}

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
	}
	return nil
}
