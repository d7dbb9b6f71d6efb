//go:build cgo

package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireONNX(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}
	if ONNXLibraryPath() == "" {
		if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
			t.Skip("ONNX runtime not available")
		}
	}
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	requireONNX(t)

	p, err := NewFastEmbedProvider(FastEmbedConfig{Model: "BAAI/bge-small-en-v1.5", CacheDir: t.TempDir()})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	vectors, err := p.EmbedDocuments(ctx, []string{"Hello world", "Test document"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 384)

	v, err := p.EmbedQuery(ctx, "test query")
	require.NoError(t, err)
	assert.Len(t, v, 384)
}

func TestResolveFastEmbedModel(t *testing.T) {
	m, err := resolveFastEmbedModel("BAAI/bge-base-en-v1.5")
	require.NoError(t, err)
	assert.Equal(t, 768, DetectDimension(string(m)))

	m, err = resolveFastEmbedModel("fast-bge-small-en-v1.5")
	require.NoError(t, err)
	assert.Equal(t, 384, DetectDimension(string(m)))

	_, err = resolveFastEmbedModel("unknown-model")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOnnxArchive(t *testing.T) {
	a, err := onnxArchive("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "linux-x64", a)

	_, err = onnxArchive("windows", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	assert.Equal(t, "libonnxruntime.dylib", onnxLibraryName("darwin"))
	assert.Equal(t, "libonnxruntime.so", onnxLibraryName("linux"))
}

func TestExtractLibraries(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := map[string]string{
		"onnxruntime-linux-x64-1.23.0/lib/libonnxruntime.so.1.23.0": "lib",
		"onnxruntime-linux-x64-1.23.0/include/onnxruntime.h":        "header",
	}
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dir := t.TempDir()
	err := extractLibraries(&buf, dir, "onnxruntime-linux-x64-1.23.0/lib/", "libonnxruntime.so")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "libonnxruntime.so.1.23.0"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "onnxruntime.h"))
	assert.True(t, os.IsNotExist(err), "files outside lib/ are skipped")
}
