package handlers

import (
	"context"
	"encoding/json"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/llm"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionParams struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"maxTokens"`
}

const chatCompletionSchema = `{
  "type": "object",
  "properties": {
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "role": {"type": "string", "enum": ["user", "assistant", "system"]},
          "content": {"type": "string"}
        },
        "required": ["role", "content"]
      }
    },
    "model": {"type": "string", "default": "gpt-3.5-turbo"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2, "default": 0.7},
    "maxTokens": {"type": "integer", "minimum": 1, "default": 1000}
  },
  "required": ["messages"]
}`

func chatCompletionTool(chat llm.Provider) *tools.Tool {
	return tools.MustNew(tools.Spec[chatCompletionParams]{
		Name:        NameChatCompletion,
		Description: "Run a chat completion over a list of messages",
		Schema:      json.RawMessage(chatCompletionSchema),
		Defaults:    chatCompletionParams{Model: "gpt-3.5-turbo", Temperature: 0.7, MaxTokens: 1000},
		Reporting:   tools.SelfReporting,
		Handle: func(ctx context.Context, p chatCompletionParams) (*tools.Result, error) {
			msgs := make([]llm.Message, len(p.Messages))
			for i, m := range p.Messages {
				msgs[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
			}
			temp := p.Temperature
			resp, err := chat.Complete(ctx, llm.CompletionRequest{
				Model:       p.Model,
				Messages:    msgs,
				Temperature: &temp,
				MaxTokens:   p.MaxTokens,
			})
			if err != nil {
				return tools.Failure("in chat completion", err), nil
			}
			return tools.Text(resp.Content), nil
		},
	})
}

type generateEmbeddingsParams struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

const generateEmbeddingsSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string"},
    "model": {"type": "string", "default": "text-embedding-ada-002"}
  },
  "required": ["text"]
}`

type embeddingOutput struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float64 `json:"embedding"`
}

func generateEmbeddingsTool(emb llm.Embedder) *tools.Tool {
	return tools.MustNew(tools.Spec[generateEmbeddingsParams]{
		Name:        NameGenerateEmbeddings,
		Description: "Generate a vector embedding for a piece of text",
		Schema:      json.RawMessage(generateEmbeddingsSchema),
		Defaults:    generateEmbeddingsParams{Model: "text-embedding-ada-002"},
		Reporting:   tools.SelfReporting,
		Handle: func(ctx context.Context, p generateEmbeddingsParams) (*tools.Result, error) {
			e, err := emb.Embed(ctx, p.Text, p.Model)
			if err != nil {
				return tools.Failure("generating embeddings", err), nil
			}
			out, err := json.Marshal(embeddingOutput{Model: e.Model, Dimensions: len(e.Vector), Embedding: e.Vector})
			if err != nil {
				return tools.Failure("generating embeddings", err), nil
			}
			return tools.Text(string(out)), nil
		},
	})
}
