package backend

import (
	"context"
	"errors"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// Function names on the backend.
const (
	FunctionWebSearch  = "web-search"
	FunctionWebLookup  = "web-lookup"
	FunctionChat       = "chat"
	FunctionEmbeddings = "embeddings"
)

// SearchRequest is the body of a web-search call.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
	SearchType string `json:"searchType"`
	SafeSearch string `json:"safeSearch"`
	Freshness  string `json:"freshness"`
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Search runs a web search. SafeSearch and Freshness default to "moderate"
// and "recent".
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.SafeSearch == "" {
		req.SafeSearch = "moderate"
	}
	if req.Freshness == "" {
		req.Freshness = "recent"
	}
	var resp searchResponse
	if err := c.Invoke(ctx, FunctionWebSearch, req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// LookupRequest is the body of a web-lookup call.
type LookupRequest struct {
	URL             string `json:"url"`
	ExtractType     string `json:"extractType"`
	IncludeImages   bool   `json:"includeImages"`
	FollowRedirects bool   `json:"followRedirects"`
	// TimeoutMillis is how long the backend may spend fetching the page.
	TimeoutMillis int `json:"timeout"`
}

type lookupResponse struct {
	Content string `json:"content"`
}

// Lookup fetches and extracts a page. It returns "" when the backend
// extracted nothing.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) (string, error) {
	var resp lookupResponse
	if err := c.Invoke(ctx, FunctionWebLookup, req, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChatMessage is one turn of a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

// ErrEmptyResponse is returned when the chat function answered without a
// response field.
var ErrEmptyResponse = errors.New("backend chat: empty response")

// Chat runs a chat completion and returns the reply text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var resp chatResponse
	if err := c.Invoke(ctx, FunctionChat, req, &resp); err != nil {
		return "", err
	}
	if resp.Response == nil {
		return "", tools.Backend(ErrEmptyResponse)
	}
	return *resp.Response, nil
}

// Embedding is the decoded embeddings response.
type Embedding struct {
	Model     string    `json:"model"`
	Embedding []float64 `json:"embedding"`
}

type embeddingsRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// ErrNoEmbedding is returned when the response carried no vector.
var ErrNoEmbedding = errors.New("backend embeddings: no embedding in response")

// Embed asks the backend for an embedding of text.
func (c *Client) Embed(ctx context.Context, text, model string) (*Embedding, error) {
	var resp Embedding
	if err := c.Invoke(ctx, FunctionEmbeddings, embeddingsRequest{Text: text, Model: model}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, tools.Backend(ErrNoEmbedding)
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return &resp, nil
}
