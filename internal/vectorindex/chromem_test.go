package vectorindex_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex/vectorindextest"
)

func item(id, channel, content string) vectorindex.Item {
	return vectorindex.Item{
		ID:     id,
		Vector: vectorindextest.Vector(content),
		Metadata: vectorindex.Metadata{
			Content:   content,
			ChannelID: channel,
			UserID:    "u1",
			Username:  "alice",
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestChromemIndex_UpsertQuery(t *testing.T) {
	ctx := context.Background()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{
		item("m1", "c1", "the cat sat on the mat"),
		item("m2", "c1", "stock prices fell sharply today"),
		item("m3", "c2", "a cat chased the mouse"),
	}))
	assert.Equal(t, 3, idx.Count())

	matches, err := idx.Query(ctx, vectorindextest.Vector("cat on a mat"), vectorindex.QueryOptions{TopK: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "m1", matches[0].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score, "ranked by descending score")
	assert.Equal(t, "the cat sat on the mat", matches[0].Metadata.Content)
	assert.Equal(t, "alice", matches[0].Metadata.Username)
	assert.Equal(t, "c1", matches[0].Metadata.ChannelID)
	assert.True(t, matches[0].Metadata.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestChromemIndex_Filter(t *testing.T) {
	ctx := context.Background()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{
		item("m1", "c1", "the cat sat on the mat"),
		item("m3", "c2", "a cat chased the mouse"),
	}))

	matches, err := idx.Query(ctx, vectorindextest.Vector("cat"), vectorindex.QueryOptions{
		TopK:   5,
		Filter: map[string]string{vectorindex.KeyChannelID: "c2"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m3", matches[0].ID)

	none, err := idx.Query(ctx, vectorindextest.Vector("cat"), vectorindex.QueryOptions{
		TopK:   5,
		Filter: map[string]string{vectorindex.KeyChannelID: "c9"},
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChromemIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{item("m1", "c1", "first draft of the text")}))
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{item("m1", "c1", "second draft of the text")}))
	assert.Equal(t, 1, idx.Count())

	matches, err := idx.Query(ctx, vectorindextest.Vector("second draft"), vectorindex.QueryOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "second draft of the text", matches[0].Metadata.Content)
}

func TestChromemIndex_Delete(t *testing.T) {
	ctx := context.Background()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{
		item("m1", "c1", "hello there friend"),
		item("m2", "c1", "another message here"),
	}))
	require.NoError(t, idx.Delete(ctx, []string{"m1", "missing"}))
	assert.Equal(t, 1, idx.Count())
	require.NoError(t, idx.Delete(ctx, nil))
}

func TestChromemIndex_QueryWhileDeleting(t *testing.T) {
	tests := []struct {
		name   string
		delete []string
		want   int
	}{
		{"collection shrinks", []string{"m1"}, 2},
		{"collection empties", []string{"m1", "m2", "m3"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
			require.NoError(t, err)
			require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{
				item("m1", "c1", "hello there friend"),
				item("m2", "c1", "another message here"),
				item("m3", "c2", "third one in line"),
			}))

			calls := 0
			vectorindex.SetBeforeQuery(idx, func() {
				calls++
				if calls == 1 {
					require.NoError(t, idx.Delete(ctx, tt.delete))
				}
			})

			matches, err := idx.Query(ctx, vectorindextest.Vector("hello"), vectorindex.QueryOptions{TopK: 3})
			require.NoError(t, err)
			assert.Len(t, matches, tt.want)
		})
	}
}

func TestChromemIndex_EmptyQuery(t *testing.T) {
	ctx := context.Background()
	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{}, nil)
	require.NoError(t, err)

	matches, err := idx.Query(ctx, vectorindextest.Vector("anything"), vectorindex.QueryOptions{TopK: 3})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = idx.Query(ctx, vectorindextest.Vector("anything"), vectorindex.QueryOptions{TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemIndex_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Path: dir, Collection: "persisted"}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Item{item("m1", "c1", "remember this one")}))
	require.NoError(t, idx.Close())

	reopened, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Path: dir, Collection: "persisted"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}

func TestChromemIndex_InvalidCollection(t *testing.T) {
	_, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{Collection: "Bad-Name"}, nil)
	assert.ErrorIs(t, err, vectorindex.ErrInvalidConfig)
}
