package vectorindex

import (
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPointID(t *testing.T) {
	numeric := PointID("1234567890123456789")
	assert.Equal(t, uint64(1234567890123456789), numeric.GetNum())

	a := PointID("msg-abc")
	b := PointID("msg-abc")
	c := PointID("msg-abd")
	assert.NotEmpty(t, a.GetUuid())
	assert.Equal(t, a.GetUuid(), b.GetUuid(), "deterministic")
	assert.NotEqual(t, a.GetUuid(), c.GetUuid())

	assert.NotEmpty(t, PointID("-5").GetUuid(), "negative numbers are not numeric ids")
}

func TestPayloadRoundTrip(t *testing.T) {
	meta := Metadata{
		Content:   "hello world",
		ChannelID: "c1",
		UserID:    "u1",
		Username:  "alice",
		Timestamp: time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC),
	}
	payload := encodePayload("m1", meta)
	assert.Equal(t, "m1", payload[payloadMessageID].GetStringValue())

	id, got := decodePayload(payload)
	assert.Equal(t, "m1", id)
	assert.Equal(t, meta, got)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(nil))

	f := buildFilter(map[string]string{KeyChannelID: "c1"})
	require.NotNil(t, f)
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, KeyChannelID, field.Key)
	assert.Equal(t, "c1", field.Match.GetKeyword())
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.False(t, IsTransientError(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("plain")))
	assert.False(t, IsTransientError(nil))
}

func TestQdrantConfig(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "messages", cfg.Collection)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "vector size required")

	cfg.VectorSize = 384
	assert.NoError(t, cfg.Validate())

	cfg.Collection = "../etc"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestEncodePayloadValueKinds(t *testing.T) {
	payload := encodePayload("42", Metadata{Content: "x"})
	for k, v := range payload {
		_, ok := v.GetKind().(*qdrant.Value_StringValue)
		assert.True(t, ok, "key %s", k)
	}
}
