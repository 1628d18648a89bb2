package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/server"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/store"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// --- helpers ---------------------------------------------------------------

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type echoParams struct {
	Msg string `json:"msg"`
}

const echoSchema = `{
  "type": "object",
  "properties": {"msg": {"type": "string"}},
  "required": ["msg"]
}`

func echoTool(calls *atomic.Int32) *tools.Tool {
	return tools.MustNew(tools.Spec[echoParams]{
		Name:        "echo",
		Description: "Echo a message",
		Schema:      json.RawMessage(echoSchema),
		Handle: func(_ context.Context, p echoParams) (*tools.Result, error) {
			if calls != nil {
				calls.Add(1)
			}
			return tools.Text(p.Msg), nil
		},
	})
}

func namedTool(name string, handle func(context.Context, struct{}) (*tools.Result, error)) *tools.Tool {
	return tools.MustNew(tools.Spec[struct{}]{
		Name:   name,
		Schema: json.RawMessage(`{"type":"object"}`),
		Handle: handle,
	})
}

type fakeStats struct{}

func (fakeStats) CallStats(context.Context) ([]store.ToolStats, error) {
	return []store.ToolStats{{Tool: "echo", Total: 3, Failures: 1, AvgDuration: time.Millisecond}}, nil
}

func newTestServer(t *testing.T, cfg server.Config, ts ...*tools.Tool) (*httptest.Server, *tools.Registry) {
	t.Helper()
	reg := tools.NewRegistry(quiet)
	for _, tool := range ts {
		reg.Register(tool)
	}
	cfg.Log = quiet
	srv := server.New(tools.NewDispatcher(reg, tools.WithLogger(quiet)), cfg)
	hs := httptest.NewServer(srv.TestHandler())
	t.Cleanup(hs.Close)
	return hs, reg
}

func execute(t *testing.T, url, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url+"/execute", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /execute: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var env map[string]string
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode error envelope %q: %v", body, err)
	}
	return env["error"]
}

// --- /execute ---------------------------------------------------------------

func TestExecute_Echo(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{}, echoTool(nil))

	resp, body := execute(t, hs.URL, `{"tool":"echo","params":{"msg":"hi"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	var res tools.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" || res.Content[0].Text != "hi" {
		t.Errorf("unexpected result %s", body)
	}
	if strings.Contains(string(body), "isError") {
		t.Errorf("isError should be omitted on success: %s", body)
	}
}

func TestExecute_MissingRequiredParam(t *testing.T) {
	var calls atomic.Int32
	hs, _ := newTestServer(t, server.Config{}, echoTool(&calls))

	resp, body := execute(t, hs.URL, `{"tool":"echo","params":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
	if msg := errorMessage(t, body); !strings.Contains(msg, "msg") {
		t.Errorf("expected message to name the field, got %q", msg)
	}
	if calls.Load() != 0 {
		t.Errorf("handler invoked %d times on invalid params", calls.Load())
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{}, echoTool(nil))

	for _, body := range []string{
		`{"tool":"nope","params":{}}`,
		`{"tool":"nope"}`,
		`{"params":{"msg":"hi"}}`,
	} {
		resp, data := execute(t, hs.URL, body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", body, resp.StatusCode)
			continue
		}
		if msg := errorMessage(t, data); msg != "Tool not found" {
			t.Errorf("%s: error = %q", body, msg)
		}
	}
}

func TestExecute_InvalidBody(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{}, echoTool(nil))

	resp, body := execute(t, hs.URL, `{"tool":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, body); msg != "invalid request body" {
		t.Errorf("error = %q", msg)
	}
}

func TestExecute_BodyTooLarge(t *testing.T) {
	reg := tools.NewRegistry(quiet)
	reg.Register(echoTool(nil))
	srv := server.New(tools.NewDispatcher(reg, tools.WithLogger(quiet)), server.Config{Log: quiet})

	big := `{"tool":"echo","params":{"msg":"` + strings.Repeat("a", 2<<20) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(big))
	rec := httptest.NewRecorder()
	srv.TestHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestExecute_ErrorKindsMapToStatus(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{},
		namedTool("forbidden", func(context.Context, struct{}) (*tools.Result, error) {
			return nil, tools.Forbidden("command %q is not allowed", "rm")
		}),
		namedTool("backend", func(context.Context, struct{}) (*tools.Result, error) {
			return nil, tools.Backend(errors.New("upstream returned 503"))
		}),
		namedTool("plain", func(context.Context, struct{}) (*tools.Result, error) {
			return nil, errors.New("ENOENT: no such file")
		}),
		namedTool("panics", func(context.Context, struct{}) (*tools.Result, error) {
			panic("boom")
		}),
	)

	cases := []struct {
		tool   string
		status int
		msg    string
	}{
		{"forbidden", http.StatusForbidden, `command "rm" is not allowed`},
		{"backend", http.StatusBadGateway, "upstream returned 503"},
		{"plain", http.StatusBadRequest, "ENOENT: no such file"},
		{"panics", http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			resp, body := execute(t, hs.URL, fmt.Sprintf(`{"tool":%q}`, tc.tool))
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.StatusCode, body)
			}
			if msg := errorMessage(t, body); msg != tc.msg {
				t.Errorf("error = %q, want %q", msg, tc.msg)
			}
		})
	}
}

func TestExecute_SelfReportingNeverFails(t *testing.T) {
	tool := tools.MustNew(tools.Spec[struct{}]{
		Name:      "flaky",
		Schema:    json.RawMessage(`{"type":"object"}`),
		Reporting: tools.SelfReporting,
		Handle: func(context.Context, struct{}) (*tools.Result, error) {
			return nil, tools.Backend(errors.New("search backend down"))
		},
	})
	hs, _ := newTestServer(t, server.Config{}, tool)

	resp, body := execute(t, hs.URL, `{"tool":"flaky","params":null}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var res tools.Result
	json.Unmarshal(body, &res)
	if !res.IsError || res.String() != "Error executing flaky: search backend down" {
		t.Errorf("unexpected result %s", body)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{RateLimit: 2}, echoTool(nil))

	for i := 0; i < 2; i++ {
		if resp, body := execute(t, hs.URL, `{"tool":"echo","params":{"msg":"x"}}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, resp.StatusCode, body)
		}
	}
	resp, body := execute(t, hs.URL, `{"tool":"echo","params":{"msg":"x"}}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, body); msg != "rate limit exceeded" {
		t.Errorf("error = %q", msg)
	}
}

// --- /tools, /health, /status ------------------------------------------------

func TestTools_ListsInsertionOrder(t *testing.T) {
	hs, reg := newTestServer(t, server.Config{}, echoTool(nil))
	reg.Register(namedTool("webSearch", func(context.Context, struct{}) (*tools.Result, error) { return nil, nil }))

	resp, err := http.Get(hs.URL + "/tools")
	if err != nil {
		t.Fatalf("GET /tools: %v", err)
	}
	defer resp.Body.Close()
	var list []tools.Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].Name != "echo" || list[1].Name != "webSearch" {
		t.Fatalf("unexpected catalog %+v", list)
	}
	if list[0].Description != "Echo a message" || !strings.Contains(string(list[0].Schema), `"msg"`) {
		t.Errorf("descriptor missing fields: %+v", list[0])
	}
}

func TestTools_EmptyRegistryIsEmptyArray(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{})
	resp, err := http.Get(hs.URL + "/tools")
	if err != nil {
		t.Fatalf("GET /tools: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected [], got %s", body)
	}
}

func TestHealth(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{Token: "secret"})

	resp, err := http.Get(hs.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open with auth enabled, got %d", resp.StatusCode)
	}
	var h server.HealthResponse
	json.NewDecoder(resp.Body).Decode(&h)
	if h.Status != "ok" || h.Version == "" {
		t.Errorf("unexpected health %+v", h)
	}
	if _, err := time.Parse(time.RFC3339, h.Timestamp); err != nil || !strings.HasSuffix(h.Timestamp, "Z") {
		t.Errorf("timestamp %q is not RFC3339 UTC", h.Timestamp)
	}
}

func TestStatus_IncludesCallStats(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{Stats: fakeStats{}}, echoTool(nil))

	resp, err := http.Get(hs.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var st server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Tools != 1 || st.SSEConnections != 0 {
		t.Errorf("unexpected status %+v", st)
	}
	if len(st.Calls) != 1 || st.Calls[0].Total != 3 {
		t.Errorf("expected call stats, got %+v", st.Calls)
	}
}

// --- auth and CORS -----------------------------------------------------------

func TestAuth(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{Token: "secret"}, echoTool(nil))

	resp, _ := execute(t, hs.URL, `{"tool":"echo","params":{"msg":"hi"}}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = execute(t, hs.URL, `{"tool":"echo","params":{"msg":"hi"}}`, "Authorization", "Bearer wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = execute(t, hs.URL, `{"tool":"echo","params":{"msg":"hi"}}`, "Authorization", "Bearer secret")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("good token: expected 200, got %d", resp.StatusCode)
	}

	for _, path := range []string{"/tools", "/status", "/sse"} {
		r, err := http.Get(hs.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token: expected 401, got %d", path, r.StatusCode)
		}
	}
}

func TestCORS(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{Token: "secret"}, echoTool(nil))

	req, _ := http.NewRequest(http.MethodOptions, hs.URL+"/execute", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight missing Access-Control-Allow-Origin")
	}

	r, _ := execute(t, hs.URL, `{}`)
	if r.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("error responses must carry Access-Control-Allow-Origin")
	}
}

// --- /sse -------------------------------------------------------------------

func openStream(t *testing.T, ctx context.Context, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url+"/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readEvent reads one blank-line terminated SSE frame.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v (so far %q)", err, b.String())
		}
		if line == "\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}

func catalogNames(t *testing.T, frame string) []string {
	t.Helper()
	data, ok := strings.CutPrefix(strings.TrimSpace(frame), "data: ")
	if !ok {
		t.Fatalf("expected data frame, got %q", frame)
	}
	var evt struct {
		Type  string             `json:"type"`
		Tools []tools.Descriptor `json:"tools"`
	}
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != "tools" {
		t.Fatalf("event type = %q", evt.Type)
	}
	names := make([]string, 0, len(evt.Tools))
	for _, d := range evt.Tools {
		names = append(names, d.Name)
	}
	return names
}

func TestSSE_CatalogThenHeartbeat(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{Heartbeat: 20 * time.Millisecond}, echoTool(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, r := openStream(t, ctx, hs.URL)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on stream")
	}

	if names := catalogNames(t, readEvent(t, r)); len(names) != 1 || names[0] != "echo" {
		t.Fatalf("unexpected catalog %v", names)
	}
	for i := 0; i < 2; i++ {
		if frame := readEvent(t, r); frame != ": keepalive\n" {
			t.Fatalf("heartbeat %d = %q", i+1, frame)
		}
	}
}

func TestSSE_SnapshotReflectsLateRegistration(t *testing.T) {
	hs, reg := newTestServer(t, server.Config{}, echoTool(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, r := openStream(t, ctx, hs.URL)
	if names := catalogNames(t, readEvent(t, r)); len(names) != 1 {
		t.Fatalf("unexpected first catalog %v", names)
	}

	reg.Register(namedTool("late", func(context.Context, struct{}) (*tools.Result, error) { return nil, nil }))
	_, r2 := openStream(t, ctx, hs.URL)
	names := catalogNames(t, readEvent(t, r2))
	if len(names) != 2 || names[1] != "late" {
		t.Errorf("new stream should see the late tool, got %v", names)
	}
}

func TestSSE_ConnectionCap(t *testing.T) {
	hs, _ := newTestServer(t, server.Config{MaxSSEConnections: 1}, echoTool(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, r := openStream(t, ctx, hs.URL)
	readEvent(t, r)

	resp, err := http.Get(hs.URL + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 over the cap, got %d", resp.StatusCode)
	}
}

// --- lifecycle ---------------------------------------------------------------

func TestStartStop_ClosesStreams(t *testing.T) {
	reg := tools.NewRegistry(quiet)
	reg.Register(echoTool(nil))
	srv := server.New(tools.NewDispatcher(reg, tools.WithLogger(quiet)), server.Config{Addr: "127.0.0.1:0", Log: quiet})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	base := "http://" + srv.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, r := openStream(t, ctx, base)
	readEvent(t, r)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a stream was open")
	}
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("expected the stream to be closed after Stop")
	}
}
