package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/filter"
	"github.com/fyrsmithlabs/recalld/internal/relstore"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex/vectorindextest"
)

var (
	t0       = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	errVecDB = errors.New("vector backend unavailable")
)

// flakyVectors fails the selected vector operations.
type flakyVectors struct {
	Vectors
	failUpsert error
	failDelete error
	upserts    int
	deletes    int
}

func (f *flakyVectors) UpsertText(ctx context.Context, id string, meta vectorindex.Metadata) error {
	f.upserts++
	if f.failUpsert != nil {
		return f.failUpsert
	}
	return f.Vectors.UpsertText(ctx, id, meta)
}

func (f *flakyVectors) DeleteByIDs(ctx context.Context, ids []string) error {
	f.deletes++
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.Vectors.DeleteByIDs(ctx, ids)
}

type harness struct {
	store   *relstore.SQLStore
	vectors *flakyVectors
	index   *vectorindex.ChromemIndex
	coord   *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := relstore.NewSQLStore(context.Background(), relstore.Config{Driver: relstore.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adapter, index := vectorindextest.NewAdapter(t, &vectorindextest.HashEmbedder{})
	vectors := &flakyVectors{Vectors: adapter}

	coord, err := New(store, vectors, WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	return &harness{store: store, vectors: vectors, index: index, coord: coord}
}

// vectorFor returns the indexed entry for id, or nil.
func (h *harness) vectorFor(t *testing.T, id string) *vectorindex.Match {
	t.Helper()
	matches, err := h.index.Query(context.Background(), vectorindextest.Vector("probe"), vectorindex.QueryOptions{TopK: 1000})
	require.NoError(t, err)
	for i := range matches {
		if matches[i].ID == id {
			return &matches[i]
		}
	}
	return nil
}

// assertConsistent checks is_vectorized against the vector index.
func (h *harness) assertConsistent(t *testing.T, id string) {
	t.Helper()
	m, err := h.store.GetMessage(context.Background(), id)
	if errors.Is(err, chat.ErrNotFound) {
		assert.Nil(t, h.vectorFor(t, id), "absent row must have no vector")
		return
	}
	require.NoError(t, err)
	assert.Equal(t, m.IsVectorized, h.vectorFor(t, id) != nil, "is_vectorized must mirror the vector index")
}

func inbound(id, content string) chat.Inbound {
	return chat.Inbound{
		Message: chat.Message{
			ID:        id,
			ChannelID: "c1",
			UserID:    "u1",
			Content:   content,
			Timestamp: t0,
		},
		Username: "alice",
	}
}

func TestCreate_Vectorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.NoError(t, err)
	assert.Equal(t, Result{Stored: true, Vectorized: true, Reason: filter.ReasonNone}, res)

	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsVectorized)
	assert.Equal(t, t0, m.CreatedAt)

	v := h.vectorFor(t, "m1")
	require.NotNil(t, v)
	assert.Equal(t, "hello there everyone", v.Metadata.Content)
	assert.Equal(t, "alice", v.Metadata.Username)
	assert.Equal(t, "c1", v.Metadata.ChannelID)

	u, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestCreate_StoredOnly(t *testing.T) {
	tests := []struct {
		name    string
		content string
		attach  bool
		reason  filter.Reason
	}{
		{"bot command", "!ping everyone", false, filter.ReasonBotCommand},
		{"url only", "https://example.com/a", false, filter.ReasonURLOnly},
		{"emoji only", "🎉🎉🎉", false, filter.ReasonEmojiOnly},
		{"attachment only", "", true, filter.ReasonAttachmentOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := inbound("m1", tt.content)
			in.HasAttachments = tt.attach

			res, err := h.coord.Create(context.Background(), in)
			require.NoError(t, err)
			assert.True(t, res.Stored)
			assert.False(t, res.Vectorized)
			assert.Equal(t, tt.reason, res.Reason)

			m, err := h.store.GetMessage(context.Background(), "m1")
			require.NoError(t, err)
			assert.False(t, m.IsVectorized)
			assert.Zero(t, h.vectors.upserts)
			h.assertConsistent(t, "m1")

			_, err = h.store.GetUser(context.Background(), "u1")
			assert.NoError(t, err, "author is recorded regardless of vectorization")
		})
	}
}

func TestCreate_TooShortPersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.coord.Create(ctx, inbound("m1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, Result{Reason: filter.ReasonTooShort}, res)

	_, err = h.store.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = h.store.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.Nil(t, h.vectorFor(t, "m1"))
}

func TestCreate_Invalid(t *testing.T) {
	h := newHarness(t)
	in := inbound("", "hello there")
	_, err := h.coord.Create(context.Background(), in)
	assert.ErrorIs(t, err, chat.ErrInvalidInput)
}

func TestCreate_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.index.Count())
	h.assertConsistent(t, "m1")
}

func TestCreate_ReingestRemovesStaleVector(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.NoError(t, err)
	require.NotNil(t, h.vectorFor(t, "m1"))

	res, err := h.coord.Create(ctx, inbound("m1", "https://example.com/x"))
	require.NoError(t, err)
	assert.False(t, res.Vectorized)
	assert.Nil(t, h.vectorFor(t, "m1"))
	h.assertConsistent(t, "m1")
}

func TestCreate_UnknownAuthor(t *testing.T) {
	h := newHarness(t)
	in := inbound("m1", "hello there everyone")
	in.Username = ""

	_, err := h.coord.Create(context.Background(), in)
	require.NoError(t, err)

	v := h.vectorFor(t, "m1")
	require.NotNil(t, v)
	assert.Equal(t, chat.UnknownUsername, v.Metadata.Username)

	u, err := h.store.GetUser(context.Background(), "u1")
	require.NoError(t, err, "every stored message must have its author in the directory")
	assert.Equal(t, chat.UnknownUsername, u.Username)
}

func TestCreate_NamelessEventKeepsExistingAuthor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	display := "Alice"
	require.NoError(t, h.store.UpsertUser(ctx, chat.User{ID: "u1", Username: "alice", DisplayName: &display, UpdatedAt: t0}))

	in := inbound("m1", "hello there everyone")
	in.Username = ""
	_, err := h.coord.Create(ctx, in)
	require.NoError(t, err)

	u, err := h.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	require.NotNil(t, u.DisplayName)
	assert.Equal(t, "Alice", *u.DisplayName)

	v := h.vectorFor(t, "m1")
	require.NotNil(t, v)
	assert.Equal(t, "alice", v.Metadata.Username)
}

func TestCreate_VectorFailureRetryConverges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.vectors.failUpsert = errVecDB
	_, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.ErrorIs(t, err, errVecDB)

	// Row written first; the call is not compensated.
	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsVectorized)
	assert.Nil(t, h.vectorFor(t, "m1"))

	h.vectors.failUpsert = nil
	_, err = h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.NoError(t, err)
	h.assertConsistent(t, "m1")
}

func TestCreate_InferenceFailure(t *testing.T) {
	store, err := relstore.NewSQLStore(context.Background(), relstore.Config{Driver: relstore.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adapter, _ := vectorindextest.NewAdapter(t, &vectorindextest.HashEmbedder{Err: errors.New("model offline")})
	coord, err := New(store, adapter)
	require.NoError(t, err)

	_, err = coord.Create(context.Background(), inbound("m1", "hello there everyone"))
	assert.ErrorIs(t, err, chat.ErrInferenceFailure)
}

func TestUpdate_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		initial     string
		edited      string
		wantVector  bool
		wantUpserts int
		wantDeletes int
	}{
		{"vectorized to vectorized with new content", "hello there everyone", "goodbye now everyone", true, 2, 0},
		{"vectorized unchanged content skips embedding", "hello there everyone", "hello there everyone", true, 1, 0},
		{"vectorized to stored only", "hello there everyone", "!ping everyone", false, 1, 1},
		{"stored only to vectorized", "!ping everyone", "hello there everyone", true, 1, 0},
		{"stored only stays stored only", "!ping everyone", "https://example.com/x", false, 0, 0},
		{"vectorized edited too short keeps row", "hello there everyone", "ok", false, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			_, err := h.coord.Create(ctx, inbound("m1", tt.initial))
			require.NoError(t, err)

			edited := t0.Add(time.Minute)
			res, err := h.coord.Update(ctx, "m1", tt.edited, edited)
			require.NoError(t, err)
			assert.True(t, res.Stored)
			assert.Equal(t, tt.wantVector, res.Vectorized)

			m, err := h.store.GetMessage(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, tt.edited, m.Content)
			require.NotNil(t, m.EditedTimestamp)
			assert.True(t, edited.Equal(*m.EditedTimestamp))
			assert.True(t, t0.Equal(m.Timestamp), "timestamp is immutable")
			assert.Equal(t, tt.wantVector, m.IsVectorized)

			assert.Equal(t, tt.wantUpserts, h.vectors.upserts)
			assert.Equal(t, tt.wantDeletes, h.vectors.deletes)
			h.assertConsistent(t, "m1")

			if tt.wantVector {
				v := h.vectorFor(t, "m1")
				require.NotNil(t, v)
				assert.Equal(t, tt.edited, v.Metadata.Content)
			}
		})
	}
}

func TestUpdate_UsesStoredAttachmentFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := inbound("m1", "")
	in.HasAttachments = true
	_, err := h.coord.Create(ctx, in)
	require.NoError(t, err)

	res, err := h.coord.Update(ctx, "m1", "", t0)
	require.NoError(t, err)
	assert.Equal(t, filter.ReasonAttachmentOnly, res.Reason)

	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.HasAttachments)
}

func TestUpdate_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Update(context.Background(), "missing", "hello there", t0)
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.Zero(t, h.vectors.upserts)
}

func TestUpdate_DefaultsEditedTimestamp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.NoError(t, err)

	_, err = h.coord.Update(ctx, "m1", "hello again everyone", time.Time{})
	require.NoError(t, err)

	m, err := h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m.EditedTimestamp)
	assert.True(t, t0.Equal(*m.EditedTimestamp))
}

func TestUpdate_UsernameFromDirectory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.Create(ctx, inbound("m1", "!ping everyone"))
	require.NoError(t, err)

	renamed := "alice2"
	require.NoError(t, h.store.UpdateUser(ctx, "u1", chat.UserPatch{Username: &renamed}))

	_, err = h.coord.Update(ctx, "m1", "hello there everyone", t0)
	require.NoError(t, err)
	v := h.vectorFor(t, "m1")
	require.NotNil(t, v)
	assert.Equal(t, "alice2", v.Metadata.Username)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.NoError(t, err)
	_, err = h.coord.Create(ctx, inbound("m2", "!ping everyone"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Delete(ctx, "m1"))
	require.NoError(t, h.coord.Delete(ctx, "m2"))
	assert.Equal(t, 1, h.vectors.deletes, "only the vectorized message touches the index")
	assert.Equal(t, 0, h.index.Count())
	h.assertConsistent(t, "m1")
	h.assertConsistent(t, "m2")

	assert.ErrorIs(t, h.coord.Delete(ctx, "m1"), chat.ErrNotFound)
}

func TestDelete_VectorFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.Create(ctx, inbound("m1", "hello there everyone"))
	require.NoError(t, err)

	h.vectors.failDelete = errVecDB
	err = h.coord.Delete(ctx, "m1")
	require.ErrorIs(t, err, errVecDB)

	// The row survives a failed vector delete, still consistent.
	_, err = h.store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	h.assertConsistent(t, "m1")

	h.vectors.failDelete = nil
	require.NoError(t, h.coord.Delete(ctx, "m1"))
	h.assertConsistent(t, "m1")
}

func TestCreateBatch(t *testing.T) {
	tests := []struct {
		name           string
		contents       []string
		wantStored     int
		wantVectorized int
	}{
		// "!cmd" is four code units, so too_short wins over bot_command.
		{"short command", []string{"hi", "!cmd", "http://a.b", "hello there", "another one"}, 3, 2},
		{"full command", []string{"hi", "!ping", "http://a.b", "hello there", "another one"}, 4, 2},
		{"empty", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			batch := make([]chat.Inbound, len(tt.contents))
			for i, c := range tt.contents {
				batch[i] = inbound(fmt.Sprintf("m%d", i), c)
			}

			res, err := h.coord.CreateBatch(context.Background(), batch)
			require.NoError(t, err)
			assert.Equal(t, BatchResult{StoredCount: tt.wantStored, VectorizedCount: tt.wantVectorized}, res)
			assert.Equal(t, tt.wantVectorized, h.index.Count())
		})
	}
}

func TestCreateBatch_AbortsOnFirstError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vectors.failUpsert = errVecDB

	batch := []chat.Inbound{
		inbound("m0", "!ping everyone"),
		inbound("m1", "hello there everyone"),
		inbound("m2", "another message here"),
	}
	res, err := h.coord.CreateBatch(ctx, batch)
	require.ErrorIs(t, err, errVecDB)
	assert.Equal(t, BatchResult{}, res, "no partial counts")

	_, err = h.store.GetMessage(ctx, "m0")
	assert.NoError(t, err, "items before the failure stay applied")
	_, err = h.store.GetMessage(ctx, "m2")
	assert.ErrorIs(t, err, chat.ErrNotFound, "items after the failure are not attempted")
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, &flakyVectors{})
	assert.Error(t, err)

	store, err := relstore.NewSQLStore(context.Background(), relstore.Config{Driver: relstore.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer store.Close()
	_, err = New(store, nil)
	assert.Error(t, err)
}

func TestWithRules(t *testing.T) {
	h := newHarness(t)
	coord, err := New(h.store, h.vectors, WithRules(filter.Rules{MinLength: 1, CommandPrefix: "/"}))
	require.NoError(t, err)

	res, err := coord.Create(context.Background(), inbound("m1", "hi"))
	require.NoError(t, err)
	assert.True(t, res.Vectorized)

	res, err = coord.Create(context.Background(), inbound("m2", "/remind me"))
	require.NoError(t, err)
	assert.Equal(t, filter.ReasonBotCommand, res.Reason)
}

func TestCreate_RecordsSpan(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tel.Install(t)
	h := newHarness(t)

	_, err := h.coord.Create(context.Background(), inbound("m1", "!ping everyone"))
	require.NoError(t, err)

	tel.AssertSpanExists(t, "Coordinator.Create")
	tel.AssertSpanAttribute(t, "Coordinator.Create", "message_id", "m1")
	tel.AssertSpanAttribute(t, "Coordinator.Create", "filter_reason", "bot_command")
}
