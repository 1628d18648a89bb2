// Package server implements the bridge's HTTP transport.
//
// Endpoints:
//
//	GET     /health   → HealthResponse (never authenticated)
//	GET     /status   → StatusResponse
//	GET     /tools    → []tools.Descriptor
//	GET     /sse      → text/event-stream: catalog event, then keepalives
//	POST    /execute  → ExecuteRequest → tools.Result | {"error": "..."}
//	OPTIONS *         → 204 (CORS preflight)
//
// Every response carries Access-Control-Allow-Origin: *. When Config.Token
// is set, every route except /health requires "Authorization: Bearer
// <token>". POST /execute is rate limited per client address with a fixed
// one-minute window.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Kakehashi/common/trace"
	"github.com/bdobrica/Kakehashi/common/version"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/observability"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/store"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// maxExecuteBodyBytes caps the POST /execute request body.
const maxExecuteBodyBytes = 1 << 20 // 1 MiB

// DefaultRateLimit is the default number of /execute calls a client may make
// per minute.
const DefaultRateLimit = 100

const shutdownTimeout = 10 * time.Second

// StatsSource supplies per-tool call statistics for /status.
type StatsSource interface {
	CallStats(ctx context.Context) ([]store.ToolStats, error)
}

// Config holds the transport settings.
type Config struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string
	// Token, when non-empty, is the bearer token required on every route
	// except /health.
	Token string
	// RateLimit is the number of /execute calls allowed per client per
	// minute. Zero disables limiting.
	RateLimit int
	// Heartbeat is the interval between SSE keepalive comments.
	Heartbeat time.Duration
	// MaxSSEConnections caps concurrent /sse streams.
	MaxSSEConnections int
	// Stats, when set, adds call statistics to /status.
	Stats StatsSource
	Log   *slog.Logger
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	StartedAt      time.Time         `json:"started_at"`
	Uptime         float64           `json:"uptime_seconds"`
	Tools          int               `json:"tools"`
	SSEConnections int               `json:"sse_connections"`
	Calls          []store.ToolStats `json:"calls,omitempty"`
}

// Server is the HTTP transport.
type Server struct {
	cfg        Config
	dispatcher *tools.Dispatcher
	log        *slog.Logger
	server     *http.Server
	hub        *hub
	limiter    *rateLimiter
	startedAt  time.Time

	mu   sync.Mutex
	addr net.Addr
}

// New builds a server over d. Nothing listens until Start.
func New(d *tools.Dispatcher, cfg Config) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		log:        cfg.Log,
		hub:        newHub(cfg.MaxSSEConnections),
		limiter:    newRateLimiter(cfg.RateLimit, time.Minute),
		startedAt:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /status", s.authMiddleware(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /tools", s.authMiddleware(http.HandlerFunc(s.handleTools)))
	mux.Handle("GET /sse", s.authMiddleware(http.HandlerFunc(s.handleSSE)))
	mux.Handle("POST /execute", s.authMiddleware(http.HandlerFunc(s.handleExecute)))

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// SSE streams are long-lived; handlers bound their own writes.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	s.server.RegisterOnShutdown(s.hub.close)
	return s
}

// corsMiddleware allows any origin and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware rejects requests that do not carry the configured bearer
// token. When Config.Token is empty all requests are allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves in the background. It returns once
// the listener is bound. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.log.Info("HTTP server listening", "addr", ln.Addr().String(), "tools", s.dispatcher.Registry().Len())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop closes SSE streams and shuts the server down, waiting up to ten
// seconds for in-flight requests.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP server shutdown", "err", err)
	}
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:         "ok",
		Version:        version.Version,
		StartedAt:      s.startedAt,
		Uptime:         time.Since(s.startedAt).Seconds(),
		Tools:          s.dispatcher.Registry().Len(),
		SSEConnections: s.hub.Len(),
	}
	if s.cfg.Stats != nil {
		stats, err := s.cfg.Stats.CallStats(r.Context())
		if err != nil {
			s.requestLogger(r).Warn("status: call stats unavailable", "err", err)
		}
		resp.Calls = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Registry().Catalog())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientAddr(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxExecuteBodyBytes)
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := trace.NewID()
	receivedAt := time.Now()
	ctx := trace.WithRequest(r.Context(), id, receivedAt)
	w.Header().Set("X-Request-ID", id)

	res, err := s.dispatcher.Dispatch(ctx, tools.Request{
		ID:         id,
		Tool:       req.Tool,
		Params:     req.Params,
		ReceivedAt: receivedAt,
		Transport:  tools.TransportHTTP,
	})
	if err != nil {
		writeError(w, tools.HTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return observability.WithRequest(r.Context(), s.log).With("path", r.URL.Path, "remote", clientAddr(r))
}

// clientAddr returns the host part of the request's remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestHandler exposes the server's HTTP handler for use in httptest.NewServer.
// This is only intended for tests.
func (s *Server) TestHandler() http.Handler {
	return s.server.Handler
}
