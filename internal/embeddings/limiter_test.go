package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRateLimit_PassesThrough(t *testing.T) {
	stub := &stubProvider{dim: 2}
	p := WithRateLimit(stub, 1000, 10)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 2, p.Dimension())
}

func TestWithRateLimit_CancelledContext(t *testing.T) {
	stub := &stubProvider{dim: 2}
	p := WithRateLimit(stub, 0.001, 1)

	// Drain the single burst token.
	_, err := p.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedQuery(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, stub.calls, "backend not called when the limiter rejects")
}
