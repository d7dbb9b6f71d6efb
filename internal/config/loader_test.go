package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// setupTestHome points HOME at a temp dir and returns the recalld config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "recalld")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  port: 8181
  persona: "You are a helpful channel assistant."
  shutdown_timeout: 5s
logging:
  level: debug
  format: console
store:
  driver: postgres
  dsn: postgres://recalld@localhost/recalld
embeddings:
  provider: openai
  api_key: sk-test
vectorindex:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    collection: chat_messages
filter:
  min_length: 3
  command_prefix: "/"
generation:
  provider: ollama
events:
  enabled: true
  url: nats://nats:4222
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "You are a helpful channel assistant.", cfg.Server.Persona)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 500, cfg.Server.MaxBatchSize)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "recalld", cfg.Logging.Fields["service"])
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	assert.Equal(t, "qdrant", cfg.VectorIndex.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorIndex.Qdrant.Host)
	assert.Equal(t, 6334, cfg.VectorIndex.Qdrant.Port)
	assert.Equal(t, "chat_messages", cfg.VectorIndex.Qdrant.Collection)
	assert.Equal(t, 3, cfg.Filter.Rules().MinLength)
	assert.Equal(t, "/", cfg.Filter.Rules().CommandPrefix)
	assert.Equal(t, "llama3.2", cfg.Generation.Model)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "recalld.messages", cfg.Events.SubjectPrefix)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.NotEmpty(t, cfg.Store.DSN)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, "chromem", cfg.VectorIndex.Provider)
	assert.Equal(t, "messages", cfg.VectorIndex.Chromem.Collection)
	assert.True(t, cfg.VectorIndex.Chromem.Compress)
	assert.Equal(t, 5, cfg.Filter.MinLength)
	assert.Equal(t, "!", cfg.Filter.CommandPrefix)
	assert.False(t, cfg.Generation.Enabled())
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadWithFile_DefaultPath(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, dir, "server:\n  port: 7070\n")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 7070\n")

	t.Setenv("RECALLD_SERVER_PORT", "6060")
	t.Setenv("RECALLD_SERVER_MAX_BATCH_SIZE", "25")
	t.Setenv("RECALLD_VECTORINDEX_CHROMEM_PATH", "/tmp/recalld-index")
	t.Setenv("RECALLD_LOGGING_SAMPLING_ENABLED", "false")
	t.Setenv("RECALLD_FILTER_COMMAND_PREFIX", "?")
	t.Setenv("RECALLD_UNKNOWN_THING", "ignored")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Server.MaxBatchSize)
	assert.Equal(t, "/tmp/recalld-index", cfg.VectorIndex.Chromem.Path)
	assert.False(t, cfg.Logging.Sampling.Enabled)
	assert.Equal(t, "?", cfg.Filter.CommandPrefix)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RECALLD_SERVER_PORT", "server.port"},
		{"RECALLD_SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"RECALLD_STORE_DSN", "store.dsn"},
		{"RECALLD_VECTORINDEX_PROVIDER", "vectorindex.provider"},
		{"RECALLD_VECTORINDEX_QDRANT_VECTOR_SIZE", "vectorindex.qdrant.vector_size"},
		{"RECALLD_LOGGING_REDACTION_ENABLED", "logging.redaction.enabled"},
		{"RECALLD_LOGGING_LEVEL", "logging.level"},
		{"RECALLD_TELEMETRY_SAMPLING_RATE", "telemetry.sampling_rate"},
		{"RECALLD_NOPE_FIELD", ""},
		{"RECALLD_SERVER", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [port: 1\n")

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFile_Validation(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "vectorindex:\n  provider: pinecone\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectorindex.provider")
}

func TestLoadWithFile_PathTraversal(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("/tmp/../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_SiblingDirectoryRejected(t *testing.T) {
	dir := setupTestHome(t)

	_, err := LoadWithFile(dir + "-evil/config.yaml")
	assert.Error(t, err)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1234\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_ReadOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1234\n"), 0400))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Server.Port)
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	content := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, content)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "recalld"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
