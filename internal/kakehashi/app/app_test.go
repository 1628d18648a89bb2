package app_test

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/app"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/handlers"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"KAKEHASHI_BACKEND_URL", "KAKEHASHI_BACKEND_KEY", "SUPABASE_URL", "SUPABASE_KEY",
		"PORT", "KAKEHASHI_BIND", "KAKEHASHI_TOKEN", "KAKEHASHI_RATE_LIMIT",
		"KAKEHASHI_SSE_HEARTBEAT", "KAKEHASHI_SSE_MAX_CONNECTIONS", "KAKEHASHI_DB_PATH",
		"KAKEHASHI_POLICY_FILE", "LLM_PROVIDER", "LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_KEY", "anon-key")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://example.supabase.co", cfg.BackendURL)
	assert.Equal(t, "anon-key", cfg.BackendKey)
	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.SSEHeartbeat)
	assert.Equal(t, 1000, cfg.SSEMaxConnections)
	assert.Equal(t, "kakehashi.db", cfg.DatabasePath)
	assert.Equal(t, app.ProviderBackend, cfg.LLM.Provider)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAKEHASHI_BACKEND_URL", "http://backend")
	t.Setenv("SUPABASE_URL", "http://ignored")
	t.Setenv("KAKEHASHI_BACKEND_KEY", "k")
	t.Setenv("PORT", "8080")
	t.Setenv("KAKEHASHI_BIND", "127.0.0.1")
	t.Setenv("KAKEHASHI_RATE_LIMIT", "0")
	t.Setenv("KAKEHASHI_SSE_HEARTBEAT", "5s")
	t.Setenv("KAKEHASHI_DB_PATH", "off")
	t.Setenv("LLM_PROVIDER", "OpenAI")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://backend", cfg.BackendURL)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Equal(t, 0, cfg.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.SSEHeartbeat)
	assert.Empty(t, cfg.DatabasePath)
	assert.Equal(t, app.ProviderOpenAI, cfg.LLM.Provider)
}

func TestLoadConfig_ReportsAllMissing(t *testing.T) {
	clearEnv(t)
	_, err := app.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAKEHASHI_BACKEND_URL")
	assert.Contains(t, err.Error(), "KAKEHASHI_BACKEND_KEY")
}

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T, policyBody string) *app.Config {
	t.Helper()
	dir := t.TempDir()
	body := strings.ReplaceAll(policyBody, "$ROOT", filepath.Join(dir, "workspace"))
	return &app.Config{
		BackendURL:   "http://127.0.0.1:1",
		BackendKey:   "test-key",
		Addr:         "127.0.0.1:0",
		DatabasePath: filepath.Join(dir, "calls.db"),
		PolicyFile:   writePolicy(t, dir, body),
		LLM:          app.LLMConfig{Provider: app.ProviderBackend},
	}
}

func toolNames(a *app.App) []string {
	var names []string
	for _, d := range a.Registry().Catalog() {
		names = append(names, d.Name)
	}
	return names
}

func TestNew_RegistersToolsFromPolicy(t *testing.T) {
	cfg := testConfig(t, `
files:
  root: $ROOT
commands:
  allow:
    - name: echo
tools:
  disabled: [writeFile]
`)
	a, err := app.New(cfg, quiet)
	require.NoError(t, err)
	defer a.Stop()

	names := toolNames(a)
	assert.Equal(t, []string{
		handlers.NameWebSearch,
		handlers.NameWebLookup,
		handlers.NameChatCompletion,
		handlers.NameGenerateEmbeddings,
		handlers.NameReadFile,
		handlers.NameListDirectory,
		handlers.NameGetSystemInfo,
		handlers.NameExecuteCommand,
	}, names)
}

func TestNew_NoCommandsWithoutAllowlist(t *testing.T) {
	cfg := testConfig(t, "files:\n  root: $ROOT\n")
	a, err := app.New(cfg, quiet)
	require.NoError(t, err)
	defer a.Stop()
	assert.NotContains(t, toolNames(a), handlers.NameExecuteCommand)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t, "commands:\n  runner: podman\n")
	_, err := app.New(cfg, quiet)
	assert.Error(t, err)

	cfg = testConfig(t, "files:\n  root: $ROOT\n")
	cfg.LLM = app.LLMConfig{Provider: "mystery"}
	_, err = app.New(cfg, quiet)
	assert.ErrorContains(t, err, "unknown LLM provider")

	cfg = testConfig(t, "files:\n  root: $ROOT\n")
	cfg.LLM = app.LLMConfig{Provider: app.ProviderOpenAI}
	_, err = app.New(cfg, quiet)
	assert.ErrorContains(t, err, "LLM_API_KEY")
}

func TestRunStdio_ExecutesCommand(t *testing.T) {
	cfg := testConfig(t, `
files:
  root: $ROOT
commands:
  allow:
    - name: echo
`)
	a, err := app.New(cfg, quiet)
	require.NoError(t, err)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"executeCommand","arguments":{"command":"echo","args":["test"]}}}` + "\n")
	var out strings.Builder
	require.NoError(t, a.RunStdio(in, &out))

	sc := bufio.NewScanner(strings.NewReader(out.String()))
	require.True(t, sc.Scan(), "expected one reply")
	var reply struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &reply))
	require.Len(t, reply.Result.Content, 1)
	assert.Contains(t, reply.Result.Content[0].Text, "test")
	assert.Contains(t, reply.Result.Content[0].Text, "Exit code: 0")
	assert.False(t, reply.Result.IsError)
}
