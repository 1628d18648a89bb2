// Kakehashi is the MCP tool bridge binary.
//
// Usage:
//
//	kakehashi [--policy FILE] [serve|stdio|tools|version]
//
// serve (the default) exposes the tools over HTTP; stdio speaks MCP JSON-RPC
// on stdin/stdout; tools prints the catalog as JSON; version prints build
// information.
//
// Required environment variables:
//
//	KAKEHASHI_BACKEND_URL   - edge-function base URL (fallback: SUPABASE_URL)
//	KAKEHASHI_BACKEND_KEY   - edge-function key (fallback: SUPABASE_KEY)
//
// Optional environment variables:
//
//	PORT                          - HTTP port (default 3000)
//	KAKEHASHI_BIND                - HTTP bind address (default all interfaces)
//	KAKEHASHI_TOKEN               - bearer token for every route except /health
//	KAKEHASHI_RATE_LIMIT          - /execute calls per client per minute (default 100, 0 = off)
//	KAKEHASHI_SSE_HEARTBEAT       - SSE keepalive interval (default 30s)
//	KAKEHASHI_SSE_MAX_CONNECTIONS - concurrent SSE streams (default 1000)
//	KAKEHASHI_DB_PATH             - SQLite call log (default kakehashi.db, "off" disables)
//	KAKEHASHI_POLICY_FILE         - policy YAML (overridden by --policy)
//	LLM_PROVIDER                  - "backend" (default) or "openai"
//	LLM_API_KEY, LLM_BASE_URL, LLM_MODEL
//	LOG_LEVEL                     - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT                    - "text" or "json" (default: "text")
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/bdobrica/Kakehashi/common/version"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/app"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/observability"
)

// Options are the command-line flags.
type Options struct {
	Policy string `short:"p" long:"policy" description:"policy YAML file"`
	Args   struct {
		Command string `positional-arg-name:"command" description:"serve, stdio, tools or version"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default&^flags.PrintErrors)
	parser.Name = "kakehashi"
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, err)
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	command := opts.Args.Command
	if command == "" {
		command = "serve"
	}
	switch command {
	case "version":
		fmt.Fprintln(stdout, version.Info())
		return 0
	case "serve", "stdio", "tools":
	default:
		fmt.Fprintf(stderr, "unknown command %q (want serve, stdio, tools or version)\n", command)
		return 2
	}

	// stdout carries the protocol in stdio mode and the catalog for tools.
	logOut := stdout
	if command != "serve" {
		logOut = stderr
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		observability.Setup("info", "text", logOut)
		slog.Error("invalid configuration", "err", err)
		return 1
	}
	if opts.Policy != "" {
		cfg.PolicyFile = opts.Policy
	}
	log := observability.Setup(cfg.LogLevel, cfg.LogFormat, logOut)

	k, err := app.New(cfg, log)
	if err != nil {
		slog.Error("failed to initialize Kakehashi", "err", err)
		return 1
	}

	switch command {
	case "tools":
		defer k.Stop()
		out, err := json.MarshalIndent(k.Registry().Catalog(), "", "  ")
		if err != nil {
			slog.Error("encode catalog", "err", err)
			return 1
		}
		fmt.Fprintln(stdout, string(out))
	case "stdio":
		if err := k.RunStdio(os.Stdin, stdout); err != nil {
			slog.Error("Kakehashi exited with error", "err", err)
			return 1
		}
	default:
		if err := k.Run(); err != nil {
			slog.Error("Kakehashi exited with error", "err", err)
			return 1
		}
	}
	return 0
}
