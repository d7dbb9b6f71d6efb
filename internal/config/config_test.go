package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	applyDefaults(cfg)
	return cfg
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "zero batch", mutate: func(c *Config) { c.Server.MaxBatchSize = 0 }, wantErr: "max_batch_size"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging"},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "oracle" }, wantErr: "store"},
		{name: "bad embeddings provider", mutate: func(c *Config) { c.Embeddings.Provider = "cohere" }, wantErr: "embeddings"},
		{name: "bad collection", mutate: func(c *Config) { c.VectorIndex.Chromem.Collection = "Bad-Name" }, wantErr: "vectorindex.chromem"},
		{name: "negative min length", mutate: func(c *Config) { c.Filter.MinLength = -1 }, wantErr: "filter.min_length"},
		{name: "bad generation provider", mutate: func(c *Config) { c.Generation.Provider = "bard" }, wantErr: "generation"},
		{name: "remote insecure telemetry", mutate: func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = "collector.example.com:4317"
		}, wantErr: "telemetry"},
		{name: "wildcard subject", mutate: func(c *Config) { c.Events.SubjectPrefix = "chat.>" }, wantErr: "events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = -1
	cfg.Filter.MinLength = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "filter.min_length")
}

func TestQdrantVectorSizeDeferred(t *testing.T) {
	cfg := validConfig()
	cfg.VectorIndex.Provider = VectorProviderQdrant

	assert.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.VectorIndex.Qdrant.VectorSize)
}

func TestServerConfig_HTTP(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 1, Persona: "p", MaxBatchSize: 9}
	h := s.HTTP()
	assert.Equal(t, "0.0.0.0", h.Host)
	assert.Equal(t, 1, h.Port)
	assert.Equal(t, "p", h.Persona)
	assert.Equal(t, 9, h.MaxBatchSize)
}
