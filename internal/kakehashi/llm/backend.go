package llm

import (
	"context"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/backend"
)

// BackendProvider implements Provider and Embedder on top of the backend's
// chat and embeddings functions.
type BackendProvider struct {
	client *backend.Client
}

// NewBackend returns a provider that delegates to c.
func NewBackend(c *backend.Client) *BackendProvider {
	return &BackendProvider{client: c}
}

// Complete calls the chat function.
func (p *BackendProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	msgs := make([]backend.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, backend.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	text, err := p.client.Chat(ctx, backend.ChatRequest{
		Messages:    msgs,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{Content: text, Model: req.Model}, nil
}

// Embed calls the embeddings function.
func (p *BackendProvider) Embed(ctx context.Context, text, model string) (*Embedding, error) {
	emb, err := p.client.Embed(ctx, text, model)
	if err != nil {
		return nil, err
	}
	return &Embedding{Model: emb.Model, Vector: emb.Embedding}, nil
}

var (
	_ Provider = (*BackendProvider)(nil)
	_ Embedder = (*BackendProvider)(nil)
)
