package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bdobrica/Kakehashi/common/redact"
	"github.com/bdobrica/Kakehashi/common/trace"
)

// Transport names recorded on requests and call records.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Outcomes recorded on call records.
const (
	OutcomeOK           = "ok"
	OutcomeSelfReported = "self_reported"
)

// Request is one tool invocation as received by a transport.
type Request struct {
	ID         string
	Tool       string
	Params     json.RawMessage
	ReceivedAt time.Time
	Transport  string
}

// CallRecord summarises a finished dispatch.
type CallRecord struct {
	RequestID string
	Tool      string
	Transport string
	// Outcome is OutcomeOK, OutcomeSelfReported, or the Kind string of the
	// error.
	Outcome  string
	Status   int
	Error    string
	Duration time.Duration
	At       time.Time
}

// CallObserver is told about every finished dispatch.
type CallObserver interface {
	ObserveCall(ctx context.Context, rec CallRecord)
}

// ObserverFunc adapts a function to CallObserver.
type ObserverFunc func(ctx context.Context, rec CallRecord)

func (f ObserverFunc) ObserveCall(ctx context.Context, rec CallRecord) { f(ctx, rec) }

// Dispatcher validates requests against the registry and runs handlers.
type Dispatcher struct {
	reg      *Registry
	log      *slog.Logger
	observer CallObserver
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver installs a CallObserver.
func WithObserver(o CallObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger used for per-call log lines.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher returns a dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{reg: reg, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Registry returns the registry the dispatcher reads from.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Dispatch looks up, validates and runs req. The returned error is always
// an *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	start := d.now()
	if req.ID == "" {
		req.ID = trace.NewID()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = start
	}
	if trace.ID(ctx) == "" {
		ctx = trace.WithRequest(ctx, req.ID, req.ReceivedAt)
	}

	res, err := d.dispatch(ctx, req)

	rec := CallRecord{
		RequestID: req.ID,
		Tool:      req.Tool,
		Transport: req.Transport,
		Outcome:   OutcomeOK,
		Status:    HTTPStatus(err),
		Duration:  d.now().Sub(start),
		At:        req.ReceivedAt,
	}
	log := d.log.With("request_id", req.ID, "tool", req.Tool, "transport", req.Transport)
	switch {
	case err != nil:
		rec.Outcome = KindOf(err).String()
		rec.Error = err.Error()
		log.Warn("tool call failed", "outcome", rec.Outcome, "status", rec.Status, "err", err, "duration", rec.Duration)
	case res.IsError:
		rec.Outcome = OutcomeSelfReported
		rec.Error = res.String()
		log.Info("tool call reported an error", "duration", rec.Duration)
	default:
		log.Info("tool call", "duration", rec.Duration)
	}
	if d.observer != nil {
		d.observer.ObserveCall(ctx, rec)
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	t, ok := d.reg.Lookup(req.Tool)
	if !ok {
		return nil, &Error{Kind: KindNotFound, Tool: req.Tool, Message: ErrToolNotFound}
	}

	raw := bytes.TrimSpace(req.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := t.Validate(raw); err != nil {
		return nil, err
	}
	if d.log.Enabled(ctx, slog.LevelDebug) {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			d.log.Debug("tool params", "request_id", req.ID, "tool", t.name, "params", redact.Params(m))
		}
	}

	res, err := d.invoke(ctx, t, raw)
	if err != nil {
		if k := KindOf(err); k == KindInvalidParams || k == KindInternal {
			return nil, err
		}
		if t.reporting == SelfReporting {
			r := Textf("Error executing %s: %v", t.name, err)
			r.IsError = true
			return r, nil
		}
		return nil, classify(t.name, err)
	}
	if res == nil {
		res = &Result{Content: []Content{}}
	}
	if res.Content == nil {
		res.Content = []Content{}
	}
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, t *Tool, raw json.RawMessage) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("tool handler panicked", "tool", t.name, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			res = nil
			err = &Error{Kind: KindInternal, Tool: t.name, Message: "internal error"}
		}
	}()
	return t.invoke(ctx, raw)
}

// classify keeps the kind of a classified handler error and marks anything
// else KindHandler.
func classify(tool string, err error) error {
	if te, ok := err.(*Error); ok {
		c := *te
		if c.Tool == "" {
			c.Tool = tool
		}
		return &c
	}
	return &Error{Kind: KindOf(err), Tool: tool, Message: err.Error(), Err: err}
}
