package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/backend"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/llm"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

const (
	// summarizeThreshold is the content length above which webLookup asks
	// the chat provider for a summary.
	summarizeThreshold = 1000
	// summarizeInputChars is how much of the page is sent for summarizing.
	summarizeInputChars = 4000
	summarizeModel      = "gpt-3.5-turbo"
	summarizePrompt     = "You are a helpful assistant that summarizes web content. Provide a concise, informative summary of the key points."
	lookupTimeoutMillis = 30000
)

type webSearchParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
	SearchType string `json:"searchType"`
}

const webSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Search terms"},
    "maxResults": {"type": "integer", "minimum": 1, "maximum": 50, "default": 5},
    "searchType": {"type": "string", "enum": ["general", "news", "images", "videos"], "default": "general"}
  },
  "required": ["query"]
}`

func webSearchTool(web Web) *tools.Tool {
	return tools.MustNew(tools.Spec[webSearchParams]{
		Name:        NameWebSearch,
		Description: "Search the web and return a numbered list of results",
		Schema:      json.RawMessage(webSearchSchema),
		Defaults:    webSearchParams{MaxResults: 5, SearchType: "general"},
		Reporting:   tools.SelfReporting,
		Handle: func(ctx context.Context, p webSearchParams) (*tools.Result, error) {
			results, err := web.Search(ctx, backend.SearchRequest{
				Query:      p.Query,
				MaxResults: p.MaxResults,
				SearchType: p.SearchType,
			})
			if err != nil {
				return tools.Failure("performing web search", err), nil
			}
			return tools.Textf("Web Search Results for \"%s\":\n\n%s", p.Query, formatResults(results)), nil
		},
	})
}

func formatResults(results []backend.SearchResult) string {
	if len(results) == 0 {
		return "No results found"
	}
	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = fmt.Sprintf("%d. **%s**\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.Join(entries, "\n")
}

type webLookupParams struct {
	URL         string `json:"url"`
	Summarize   bool   `json:"summarize"`
	ExtractType string `json:"extractType"`
}

const webLookupSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "format": "uri", "pattern": "^https?://"},
    "summarize": {"type": "boolean", "default": true},
    "extractType": {"type": "string", "enum": ["text", "metadata", "links", "all"], "default": "text"}
  },
  "required": ["url"]
}`

func webLookupTool(web Web, chat llm.Provider, log *slog.Logger) *tools.Tool {
	return tools.MustNew(tools.Spec[webLookupParams]{
		Name:        NameWebLookup,
		Description: "Fetch a web page and extract its content, summarizing long pages",
		Schema:      json.RawMessage(webLookupSchema),
		Defaults:    webLookupParams{Summarize: true, ExtractType: "text"},
		Reporting:   tools.SelfReporting,
		Handle: func(ctx context.Context, p webLookupParams) (*tools.Result, error) {
			content, err := web.Lookup(ctx, backend.LookupRequest{
				URL:             p.URL,
				ExtractType:     p.ExtractType,
				IncludeImages:   p.ExtractType == "all",
				FollowRedirects: true,
				TimeoutMillis:   lookupTimeoutMillis,
			})
			if err != nil {
				return tools.Failure("looking up URL", err), nil
			}
			if content == "" {
				return tools.Text("No content extracted"), nil
			}
			if !p.Summarize || utf8.RuneCountInString(content) <= summarizeThreshold || chat == nil {
				return tools.Text(content), nil
			}

			summary, err := summarize(ctx, chat, content)
			if err != nil {
				log.Warn("summarization failed; returning raw content", "url", p.URL, "err", err)
				return tools.Text(content), nil
			}
			return tools.Textf("**Summary:**\n%s\n\n**Original URL:** %s", summary, p.URL), nil
		},
	})
}

func summarize(ctx context.Context, chat llm.Provider, content string) (string, error) {
	resp, err := chat.Complete(ctx, llm.CompletionRequest{
		Model: summarizeModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarizePrompt},
			{Role: llm.RoleUser, Content: "Please summarize this web content:\n\n" + truncateRunes(content, summarizeInputChars)},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}

// truncateRunes returns the first n characters of s.
func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
