// Package vectorindextest provides a deterministic embedder and an in-memory
// adapter for tests.
package vectorindextest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Dimension is the size of HashEmbedder vectors.
const Dimension = 64

// HashEmbedder maps text to a normalized bag-of-words vector, so texts that
// share words score higher. Set Err to make every call fail.
type HashEmbedder struct {
	mu    sync.Mutex
	Err   error
	calls int
}

// Calls returns the number of embedding requests served.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// EmbedQuery implements vectorindex.Embedder.
func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.Err != nil {
		return nil, e.Err
	}
	return Vector(text), nil
}

// EmbedDocuments implements vectorindex.Embedder.
func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.Err != nil {
		return nil, e.Err
	}
	if len(texts) == 0 {
		return nil, errors.New("no texts")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Vector returns the HashEmbedder vector of text.
func Vector(text string) []float32 {
	v := make([]float32, Dimension)
	v[0] = 0.01
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[1+int(h.Sum32())%(Dimension-1)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// NewAdapter returns an adapter over an in-memory chromem index.
func NewAdapter(t testing.TB, embedder vectorindex.Embedder) (*vectorindex.Adapter, *vectorindex.ChromemIndex) {
	t.Helper()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
	if err != nil {
		t.Fatalf("creating chromem index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return vectorindex.NewAdapter(embedder, idx, nil), idx
}
