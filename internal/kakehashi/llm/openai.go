package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

const (
	defaultOpenAIBase     = "https://api.openai.com/v1"
	defaultOpenAIModel    = "gpt-3.5-turbo"
	defaultEmbeddingModel = "text-embedding-ada-002"
)

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint (useful for local models like Ollama).
	// Defaults to https://api.openai.com/v1.
	BaseURL string
	// Model is used when CompletionRequest.Model is empty.
	Model string
	// EmbeddingModel is used when Embed is called without a model.
	EmbeddingModel string
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// OpenAI implements Provider and Embedder against the chat completions and
// embeddings endpoints of an OpenAI-compatible API.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the OpenAI API) ---

type oaiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type oaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *oaiError `json:"error,omitempty"`
}

type oaiEmbeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type oaiEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *oaiError `json:"error,omitempty"`
}

// Complete sends a chat completion request.
func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	var resp oaiChatResponse
	status, err := p.post(ctx, "/chat/completions", oaiChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, tools.Backend(fmt.Errorf("openai error %s: %s", resp.Error.Type, resp.Error.Message))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return nil, tools.Backend(fmt.Errorf("no choices in response (status %d)", status))
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &CompletionResponse{Content: *resp.Choices[0].Message.Content, Model: model}, nil
}

// Embed requests an embedding vector for text.
func (p *OpenAI) Embed(ctx context.Context, text, model string) (*Embedding, error) {
	if model == "" {
		model = p.cfg.EmbeddingModel
	}
	var resp oaiEmbeddingResponse
	status, err := p.post(ctx, "/embeddings", oaiEmbeddingRequest{Input: text, Model: model}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if status == http.StatusTooManyRequests {
			return nil, tools.Backend(fmt.Errorf("openai rate limit (HTTP 429): %s", resp.Error.Message))
		}
		return nil, tools.Backend(fmt.Errorf("openai error %s: %s", resp.Error.Type, resp.Error.Message))
	}
	if len(resp.Data) == 0 {
		return nil, tools.Backend(fmt.Errorf("no embedding data returned (status %d)", status))
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &Embedding{Model: model, Vector: resp.Data[0].Embedding}, nil
}

func (p *OpenAI) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, tools.Backend(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, tools.Backend(fmt.Errorf("read response: %w", err))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, tools.Backend(fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	return resp.StatusCode, nil
}

var (
	_ Provider = (*OpenAI)(nil)
	_ Embedder = (*OpenAI)(nil)
)
