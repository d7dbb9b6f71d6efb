package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func openAIServer(t *testing.T, status int, body string, gotReq *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if gotReq != nil {
			_ = json.NewDecoder(r.Body).Decode(gotReq)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Result
	}{
		{
			name:   "completed",
			status: http.StatusOK,
			body:   `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  hi there "},"finish_reason":"stop"}]}`,
			want:   Completed{Text: "hi there"},
		},
		{
			name:   "empty content",
			status: http.StatusOK,
			body:   `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`,
			want:   Incomplete{FinishReason: "content_filter"},
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"id":"x","object":"chat.completion","choices":[]}`,
			want:   Incomplete{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := openAIServer(t, tt.status, tt.body, nil)
			g := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})
			assert.Equal(t, tt.want, g.Generate(context.Background(), "hello"))
		})
	}
}

func TestOpenAI_Failed(t *testing.T) {
	srv := openAIServer(t, http.StatusInternalServerError, `{"error":{"message":"overloaded","type":"server_error"}}`, nil)
	g := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})

	res := g.Generate(context.Background(), "hello")
	f, ok := res.(Failed)
	require.True(t, ok, "got %T", res)
	assert.NotEmpty(t, f.Reason)
	assert.Equal(t, "failed", res.Kind())
}

func TestOpenAI_SendsSystemMessage(t *testing.T) {
	var got map[string]any
	srv := openAIServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`, &got)
	g := NewOpenAI(Config{BaseURL: srv.URL, Model: "m", System: "be brief", MaxTokens: 32, Timeout: 5 * time.Second})

	require.Equal(t, Completed{Text: "ok"}, g.Generate(context.Background(), "hello"))
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
	assert.EqualValues(t, 32, got["max_tokens"])
}

func ollamaServer(t *testing.T, status int, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(status)
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_Generate(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  Result
	}{
		{
			name: "streamed chunks",
			lines: []string{
				`{"model":"m","response":"Hel","done":false}`,
				`{"model":"m","response":"lo","done":true,"done_reason":"stop"}`,
			},
			want: Completed{Text: "Hello"},
		},
		{
			name:  "empty",
			lines: []string{`{"model":"m","response":"","done":true,"done_reason":"stop"}`},
			want:  Incomplete{FinishReason: "stop"},
		},
		{
			name:  "not done",
			lines: []string{`{"model":"m","response":"partial","done":false}`},
			want:  Incomplete{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ollamaServer(t, http.StatusOK, tt.lines...)
			g, err := NewOllama(Config{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Generate(context.Background(), "hi"))
		})
	}
}

func TestOllama_Failed(t *testing.T) {
	srv := ollamaServer(t, http.StatusNotFound, `{"error":"model not found"}`)
	g, err := NewOllama(Config{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})
	require.NoError(t, err)

	res := g.Generate(context.Background(), "hi")
	f, ok := res.(Failed)
	require.True(t, ok, "got %T", res)
	assert.Contains(t, f.Reason, "model not found")
}

func TestNewOllama_InvalidURL(t *testing.T) {
	_, err := NewOllama(Config{BaseURL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig(t *testing.T) {
	cfg := Config{Provider: ProviderOllama}
	cfg.ApplyDefaults()
	assert.Equal(t, "llama3.2", cfg.Model)
	assert.Equal(t, "http://localhost:11434", cfg.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Enabled())

	assert.False(t, Config{}.Enabled())
	assert.ErrorIs(t, Config{Provider: "bard"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Provider: ProviderOpenAI, MaxTokens: -1}.Validate(), ErrInvalidConfig)
}

func TestNew(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	core, logs := observer.New(zap.DebugLevel)
	srv := openAIServer(t, http.StatusInternalServerError, `{"error":{"message":"down"}}`, nil)
	g, err := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL, APIKey: "k"}, zap.New(core))
	require.NoError(t, err)

	res := g.Generate(context.Background(), "hello")
	assert.Equal(t, "failed", res.Kind())
	assert.Equal(t, 1, logs.FilterMessage("generation failed").Len())
}
