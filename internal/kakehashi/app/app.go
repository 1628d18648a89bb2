// Package app wires the Kakehashi subsystems: backend client, LLM provider,
// sandbox, tool handlers, call log and the HTTP and stdio transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Kakehashi/common/version"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/backend"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/handlers"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/llm"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/mcp"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/policy"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/sandbox"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/server"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/store"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// App is the bridge process.
type App struct {
	cfg        *Config
	log        *slog.Logger
	policy     *policy.Policy
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	db         *store.Store
	httpServer *server.Server
	closers    []io.Closer
}

// New builds every subsystem. Nothing listens until Run or RunStdio.
func New(cfg *Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	pol := policy.Default()
	if cfg.PolicyFile != "" {
		p, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		pol = p
	}
	a.policy = pol

	bc, err := backend.New(backend.Config{URL: cfg.BackendURL, Key: cfg.BackendKey})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	deps := handlers.Deps{
		Web:            bc,
		CommandTimeout: pol.Commands.Timeout,
		Disabled:       pol.Tools.Disabled,
		Log:            log,
	}
	if err := a.buildLLM(bc, &deps); err != nil {
		return nil, err
	}
	if err := a.buildSandbox(pol, &deps); err != nil {
		a.Stop()
		return nil, err
	}

	var opts []tools.DispatcherOption
	opts = append(opts, tools.WithLogger(log))
	if cfg.DatabasePath != "" {
		db, err := store.New(cfg.DatabasePath, log)
		if err != nil {
			a.Stop()
			return nil, fmt.Errorf("open call log: %w", err)
		}
		a.db = db
		opts = append(opts, tools.WithObserver(db))
	}

	a.registry = tools.NewRegistry(log)
	names := handlers.Register(a.registry, deps)
	a.dispatcher = tools.NewDispatcher(a.registry, opts...)
	log.Info("tools registered", "count", len(names), "tools", names)

	scfg := server.Config{
		Addr:              cfg.Addr,
		Token:             cfg.Token,
		RateLimit:         cfg.RateLimit,
		Heartbeat:         cfg.SSEHeartbeat,
		MaxSSEConnections: cfg.SSEMaxConnections,
		Log:               log,
	}
	if a.db != nil {
		scfg.Stats = a.db
	}
	a.httpServer = server.New(a.dispatcher, scfg)
	return a, nil
}

func (a *App) buildLLM(bc *backend.Client, deps *handlers.Deps) error {
	switch a.cfg.LLM.Provider {
	case "", ProviderBackend:
		p := llm.NewBackend(bc)
		deps.Chat, deps.Embedder = p, p
	case ProviderOpenAI:
		if a.cfg.LLM.APIKey == "" {
			return errors.New("LLM_API_KEY is required for the openai provider")
		}
		p := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  a.cfg.LLM.APIKey,
			BaseURL: a.cfg.LLM.BaseURL,
			Model:   a.cfg.LLM.Model,
		})
		deps.Chat, deps.Embedder = p, p
	default:
		return fmt.Errorf("unknown LLM provider %q", a.cfg.LLM.Provider)
	}
	return nil
}

func (a *App) buildSandbox(pol *policy.Policy, deps *handlers.Deps) error {
	root, err := sandbox.NewRoot(pol.Files.Root,
		sandbox.ReadOnly(pol.Files.ReadOnly),
		sandbox.MaxBytes(pol.Files.MaxBytes),
	)
	if err != nil {
		return fmt.Errorf("files root: %w", err)
	}
	deps.Root = root

	rules := make([]sandbox.Rule, 0, len(pol.Commands.Allow))
	for _, r := range pol.Commands.Allow {
		rules = append(rules, sandbox.Rule{Name: r.Name, ArgPattern: r.ArgPattern})
	}
	allow, err := sandbox.NewAllowlist(rules)
	if err != nil {
		return fmt.Errorf("command allowlist: %w", err)
	}
	deps.Allowlist = allow
	if allow.Len() == 0 {
		return nil
	}

	switch pol.Commands.Runner {
	case policy.RunnerDocker:
		dr, err := sandbox.NewDockerRunner(pol.Commands.Image, root.Dir())
		if err != nil {
			return fmt.Errorf("docker runner: %w", err)
		}
		a.closers = append(a.closers, dr)
		deps.Runner = dr
	default:
		deps.Runner = sandbox.LocalRunner{Dir: root.Dir()}
	}
	a.log.Info("command execution enabled", "runner", pol.Commands.Runner, "commands", allow.Names())
	return nil
}

// Registry returns the populated tool registry.
func (a *App) Registry() *tools.Registry { return a.registry }

// Run serves HTTP until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.log.Info("Kakehashi started", "version", version.Version, "addr", a.cfg.Addr)

	<-ctx.Done()
	a.log.Info("received shutdown signal")
	a.Stop()
	return nil
}

// RunStdio serves MCP over in and out until in closes, SIGINT or SIGTERM.
func (a *App) RunStdio(in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.Stop()

	err := mcp.NewServer(a.dispatcher, a.log).Serve(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop shuts down every subsystem. It is safe to call more than once.
func (a *App) Stop() {
	if a.httpServer != nil {
		a.httpServer.Stop()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close", "err", err)
		}
	}
	a.closers = nil
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close call log", "err", err)
		}
		a.db = nil
	}
}
