// Package llm defines the chat and embedding providers behind the
// chatCompletion, generateEmbeddings and webLookup tools.
//
// Two implementations exist: the backend's chat and embeddings functions
// (the default) and any OpenAI-compatible HTTP API.
package llm

import "context"

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a single chat completion.
type CompletionRequest struct {
	// Model falls back to the provider default when empty.
	Model    string
	Messages []Message
	// Temperature is omitted from the upstream request when nil.
	Temperature *float64
	MaxTokens   int
}

// CompletionResponse is the reply of a chat completion.
type CompletionResponse struct {
	Content string
	Model   string
}

// Provider runs chat completions.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Embedding is a vector produced by an Embedder.
type Embedding struct {
	Model  string
	Vector []float64
}

// Embedder produces vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text, model string) (*Embedding, error)
}
