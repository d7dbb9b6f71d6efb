// Package embeddings turns message text into dense vectors.
//
// Providers:
//   - tei: Text Embeddings Inference over HTTP (default)
//   - openai: any OpenAI compatible /embeddings endpoint via langchaingo
//   - ollama: a local Ollama daemon
//   - fastembed: in-process ONNX models (requires cgo)
//
// NewProvider wraps the selected backend with an optional request rate
// limit and OpenTelemetry instrumentation.
package embeddings
