package http

import (
	"time"

	"github.com/fyrsmithlabs/recalld/internal/assembler"
	"github.com/fyrsmithlabs/recalld/internal/chat"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// BatchRequest is the request body for POST /api/v1/messages/batch.
type BatchRequest struct {
	Messages []chat.Inbound `json:"messages"`
}

// UpdateMessageRequest is the request body for PUT /api/v1/messages/:id.
type UpdateMessageRequest struct {
	Content         string    `json:"content"`
	EditedTimestamp time.Time `json:"edited_timestamp"`
}

// ContextRequest is the request body for POST /api/v1/context.
type ContextRequest struct {
	assembler.Request

	// Generate asks for a reply when a generator is configured.
	Generate bool `json:"generate,omitempty"`
}

// ContextResponse is the response body for POST /api/v1/context.
type ContextResponse struct {
	Context *assembler.Context `json:"context"`
	Summary assembler.Summary  `json:"summary"`
	Prompt  string             `json:"prompt"`
	Reply   *ReplyResponse     `json:"reply,omitempty"`
}

// ReplyResponse is a generation result.
type ReplyResponse struct {
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}
