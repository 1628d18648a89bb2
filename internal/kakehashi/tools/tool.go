// Package tools holds the tool registry and the dispatcher that validates
// parameters and invokes typed handlers.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Reporting decides how a handler failure reaches the caller.
type Reporting int

const (
	// Propagating tools turn handler errors into error responses.
	Propagating Reporting = iota
	// SelfReporting tools fold handler errors into a successful result
	// flagged with IsError.
	SelfReporting
)

// Spec describes a tool bound to a parameter struct P.
type Spec[P any] struct {
	Name        string
	Description string
	// Schema is the JSON Schema (draft 2020-12) for the params object.
	Schema json.RawMessage
	// Defaults is copied before decoding, so fields absent from the request
	// keep these values.
	Defaults  P
	Reporting Reporting
	Handle    func(ctx context.Context, params P) (*Result, error)
}

// Tool is a registered, schema-checked operation. Tools are built with New
// and are immutable afterwards.
type Tool struct {
	name        string
	description string
	schema      json.RawMessage
	compiled    *jsonschema.Schema
	reporting   Reporting
	invoke      func(ctx context.Context, raw json.RawMessage) (*Result, error)
}

// Descriptor is the advertised form of a tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// New compiles the schema and binds the typed handler.
func New[P any](spec Spec[P]) (*Tool, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if spec.Handle == nil {
		return nil, fmt.Errorf("tool %q: handler is required", spec.Name)
	}
	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", spec.Name, err)
	}
	handle := spec.Handle
	defaults := spec.Defaults
	return &Tool{
		name:        spec.Name,
		description: spec.Description,
		schema:      append(json.RawMessage(nil), spec.Schema...),
		compiled:    compiled,
		reporting:   spec.Reporting,
		invoke: func(ctx context.Context, raw json.RawMessage) (*Result, error) {
			p := defaults
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &Error{Kind: KindInvalidParams, Message: "params: " + decodeReason(err), Err: err}
			}
			return handle(ctx, p)
		},
	}, nil
}

// MustNew is New for tools defined at startup; it panics on a bad schema.
func MustNew[P any](spec Spec[P]) *Tool {
	t, err := New(spec)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tool) Name() string            { return t.name }
func (t *Tool) Description() string     { return t.description }
func (t *Tool) Schema() json.RawMessage { return t.schema }
func (t *Tool) Reporting() Reporting    { return t.reporting }

// Descriptor returns the advertised form of the tool.
func (t *Tool) Descriptor() Descriptor {
	return Descriptor{Name: t.name, Description: t.description, Schema: t.schema}
}

// Validate checks raw params against the compiled schema.
func (t *Tool) Validate(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &Error{Kind: KindInvalidParams, Tool: t.name, Message: "params: malformed JSON", Err: err}
	}
	if err := t.compiled.Validate(doc); err != nil {
		return &Error{Kind: KindInvalidParams, Tool: t.name, Message: validationMessage(err), Err: err}
	}
	return nil
}

func decodeReason(err error) string {
	if ute, ok := err.(*json.UnmarshalTypeError); ok && ute.Field != "" {
		return fmt.Sprintf("field %s has the wrong type", ute.Field)
	}
	return "cannot decode parameters"
}
