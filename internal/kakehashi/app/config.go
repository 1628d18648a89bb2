package app

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Kakehashi/common/environment"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/server"
)

// DBPathOff disables the call log when given as KAKEHASHI_DB_PATH.
const DBPathOff = "off"

// LLM provider names accepted in LLM_PROVIDER.
const (
	ProviderBackend = "backend"
	ProviderOpenAI  = "openai"
)

// Config holds the bridge configuration. LoadConfig fills it from the
// environment; tests build it directly.
type Config struct {
	// BackendURL and BackendKey address the edge-function service behind
	// the web, chat and embedding tools.
	BackendURL string
	BackendKey string

	// Addr is the HTTP listen address.
	Addr string
	// Token, when non-empty, is required as a bearer token on every route
	// except /health.
	Token string
	// RateLimit is the number of /execute calls per client per minute.
	RateLimit         int
	SSEHeartbeat      time.Duration
	SSEMaxConnections int

	// DatabasePath is the SQLite call log. Empty disables it.
	DatabasePath string

	// PolicyFile is an optional YAML policy. When empty the default policy
	// applies.
	PolicyFile string

	LLM LLMConfig

	// LogLevel is "debug", "info", "warn", or "error". Defaults to "info".
	LogLevel string
	// LogFormat is "text" or "json". Defaults to "text".
	LogFormat string
}

// LLMConfig selects the chat and embedding provider.
type LLMConfig struct {
	// Provider is "backend" (the edge-function chat and embeddings
	// functions) or "openai" (any OpenAI-compatible API).
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// LoadConfig reads the configuration from the environment. It reports every
// missing required variable at once.
func LoadConfig() (*Config, error) {
	var req environment.Required
	cfg := &Config{
		BackendURL: req.String("KAKEHASHI_BACKEND_URL", "SUPABASE_URL"),
		BackendKey: req.String("KAKEHASHI_BACKEND_KEY", "SUPABASE_KEY"),

		Addr: net.JoinHostPort(
			environment.StringOr("", "KAKEHASHI_BIND"),
			strconv.Itoa(environment.IntOr("PORT", 3000)),
		),
		Token:             environment.StringOr("", "KAKEHASHI_TOKEN"),
		RateLimit:         environment.IntOr("KAKEHASHI_RATE_LIMIT", server.DefaultRateLimit),
		SSEHeartbeat:      environment.DurationOr("KAKEHASHI_SSE_HEARTBEAT", server.DefaultHeartbeat),
		SSEMaxConnections: environment.IntOr("KAKEHASHI_SSE_MAX_CONNECTIONS", server.DefaultMaxSSEConnections),
		DatabasePath:      environment.StringOr("kakehashi.db", "KAKEHASHI_DB_PATH"),
		PolicyFile:        environment.StringOr("", "KAKEHASHI_POLICY_FILE"),

		LLM: LLMConfig{
			Provider: strings.ToLower(environment.StringOr(ProviderBackend, "LLM_PROVIDER")),
			APIKey:   environment.StringOr("", "LLM_API_KEY"),
			BaseURL:  environment.StringOr("", "LLM_BASE_URL"),
			Model:    environment.StringOr("", "LLM_MODEL"),
		},

		LogLevel:  environment.StringOr("info", "LOG_LEVEL"),
		LogFormat: environment.StringOr("text", "LOG_FORMAT"),
	}
	if strings.EqualFold(cfg.DatabasePath, DBPathOff) {
		cfg.DatabasePath = ""
	}
	if err := req.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
