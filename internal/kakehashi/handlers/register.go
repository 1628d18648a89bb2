// Package handlers implements the bridge's built-in tools.
//
// webSearch, webLookup, chatCompletion and generateEmbeddings report their
// own failures as readable text with isError set, so chat-style callers
// always get a 200 response. The file, system and command tools propagate
// failures as error responses.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/backend"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/llm"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/sandbox"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// Tool names.
const (
	NameWebSearch          = "webSearch"
	NameWebLookup          = "webLookup"
	NameChatCompletion     = "chatCompletion"
	NameGenerateEmbeddings = "generateEmbeddings"
	NameReadFile           = "readFile"
	NameWriteFile          = "writeFile"
	NameListDirectory      = "listDirectory"
	NameGetSystemInfo      = "getSystemInfo"
	NameExecuteCommand     = "executeCommand"
)

// Web is the part of the backend the web tools use.
type Web interface {
	Search(ctx context.Context, req backend.SearchRequest) ([]backend.SearchResult, error)
	Lookup(ctx context.Context, req backend.LookupRequest) (string, error)
}

// Deps are the collaborators the built-in tools need. A nil dependency
// leaves the tools that need it unregistered.
type Deps struct {
	Web      Web
	Chat     llm.Provider
	Embedder llm.Embedder

	Root *sandbox.Root

	Allowlist      *sandbox.Allowlist
	Runner         sandbox.Runner
	CommandTimeout time.Duration

	// Disabled names tools that must not be registered.
	Disabled []string

	Log *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d Deps) disabled(name string) bool {
	for _, n := range d.Disabled {
		if n == name {
			return true
		}
	}
	return false
}

// Register adds every tool whose dependencies are present to reg and
// returns the names registered, in order.
func Register(reg *tools.Registry, d Deps) []string {
	var all []*tools.Tool
	if d.Web != nil {
		all = append(all, webSearchTool(d.Web))
		all = append(all, webLookupTool(d.Web, d.Chat, d.logger()))
	}
	if d.Chat != nil {
		all = append(all, chatCompletionTool(d.Chat))
	}
	if d.Embedder != nil {
		all = append(all, generateEmbeddingsTool(d.Embedder))
	}
	if d.Root != nil {
		all = append(all, readFileTool(d.Root), writeFileTool(d.Root), listDirectoryTool(d.Root))
	}
	all = append(all, systemInfoTool())
	if d.Allowlist.Len() > 0 && d.Runner != nil {
		all = append(all, executeCommandTool(d.Allowlist, d.Runner, d.CommandTimeout))
	}

	var names []string
	for _, t := range all {
		if d.disabled(t.Name()) {
			d.logger().Info("tool disabled by policy", "tool", t.Name())
			continue
		}
		reg.Register(t)
		names = append(names, t.Name())
	}
	return names
}
