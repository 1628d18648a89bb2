package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bdobrica/Kakehashi/common/trace"
	"github.com/bdobrica/Kakehashi/common/version"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// maxLineBytes caps a single inbound JSON-RPC message.
const maxLineBytes = 4 << 20

// Server answers MCP requests from the tool registry.
type Server struct {
	dispatcher *tools.Dispatcher
	log        *slog.Logger

	mu  sync.Mutex // serialises writes to out
	out io.Writer
}

// NewServer returns a server over d.
func NewServer(d *tools.Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{dispatcher: d, log: log}
}

// Serve reads requests from in and writes responses to out until in reaches
// EOF or ctx is cancelled. Requests are handled concurrently; Serve waits for
// in-flight calls before returning.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.log.Info("MCP stdio server ready", "tools", s.dispatcher.Registry().Len())

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			wg.Wait()
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.log.Warn("mcp: unparsable message", "err", err)
				s.write(Response{ID: json.RawMessage("null"), Error: &ResponseError{Code: CodeParseError, Message: "parse error"}})
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handle(ctx, &req)
			}()
		}
	}
}

func (s *Server) handle(ctx context.Context, req *Request) {
	if req.Method == "" {
		if !req.IsNotification() {
			s.write(Response{ID: req.ID, Error: &ResponseError{Code: CodeInvalidRequest, Message: "invalid request"}})
		}
		return
	}
	if req.IsNotification() {
		s.log.Debug("mcp: notification", "method", req.Method)
		return
	}

	result, rerr := s.call(ctx, req)
	resp := Response{ID: req.ID, Result: result, Error: rerr}
	if rerr == nil && result == nil {
		resp.Result = struct{}{}
	}
	s.write(resp)
}

func (s *Server) call(ctx context.Context, req *Request) (any, *ResponseError) {
	switch req.Method {
	case "initialize":
		var p InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &ResponseError{Code: CodeInvalidParams, Message: "invalid initialize params"}
			}
		}
		s.log.Info("mcp client connected", "client", p.ClientInfo.Name, "client_version", p.ClientInfo.Version, "protocol", p.ProtocolVersion)
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: ServerName, Version: version.Version},
			Capabilities:    ServerCaps{Tools: &struct{}{}},
		}, nil

	case "ping":
		return struct{}{}, nil

	case "tools/list":
		catalog := s.dispatcher.Registry().Catalog()
		out := make([]Tool, 0, len(catalog))
		for _, d := range catalog {
			out = append(out, Tool{Name: d.Name, Description: d.Description, InputSchema: d.Schema})
		}
		return ListToolsResult{Tools: out}, nil

	case "tools/call":
		var p CallToolParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
			return nil, &ResponseError{Code: CodeInvalidParams, Message: "tools/call requires a tool name"}
		}
		return s.callTool(ctx, p)

	default:
		return nil, &ResponseError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) callTool(ctx context.Context, p CallToolParams) (any, *ResponseError) {
	id := trace.NewID()
	res, err := s.dispatcher.Dispatch(ctx, tools.Request{
		ID:        id,
		Tool:      p.Name,
		Params:    p.Arguments,
		Transport: tools.TransportStdio,
	})
	if err == nil {
		return res, nil
	}
	switch tools.KindOf(err) {
	case tools.KindNotFound, tools.KindInvalidParams:
		return nil, &ResponseError{Code: CodeInvalidParams, Message: err.Error()}
	}
	failed := tools.Text(err.Error())
	failed.IsError = true
	return failed, nil
}

func (s *Server) write(resp Response) {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("mcp: encode response", "err", err)
		data, _ = json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &ResponseError{Code: CodeInternalError, Message: "internal error"},
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "%s\n", data); err != nil {
		s.log.Warn("mcp: write response", "err", err)
	}
}
