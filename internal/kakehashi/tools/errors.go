package tools

import (
	"errors"
	"fmt"
)

// Kind classifies a dispatch failure. Transports map kinds to their own
// status vocabulary (HTTP status codes, JSON-RPC error codes).
type Kind int

const (
	// KindHandler is a handler error without a more specific class. It is
	// reported as a client error.
	KindHandler Kind = iota
	// KindNotFound means no tool is registered under the requested name.
	KindNotFound
	// KindInvalidParams means the parameters failed schema validation.
	KindInvalidParams
	// KindForbidden means a sandbox or allowlist refused the operation.
	KindForbidden
	// KindBackend means a remote dependency failed.
	KindBackend
	// KindInternal means the handler panicked.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindHandler:
		return "handler_error"
	case KindNotFound:
		return "not_found"
	case KindInvalidParams:
		return "invalid_params"
	case KindForbidden:
		return "forbidden"
	case KindBackend:
		return "backend_error"
	case KindInternal:
		return "internal_error"
	default:
		return "unknown"
	}
}

// ErrToolNotFound is the message reported for unknown tool names.
const ErrToolNotFound = "Tool not found"

// Error is a classified dispatch failure.
type Error struct {
	Kind    Kind
	Tool    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind carried by err, or KindHandler when err carries
// none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindHandler
}

// Forbidden wraps err as a KindForbidden failure. Handlers return it when a
// sandbox rule refuses the operation.
func Forbidden(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: KindForbidden, Message: err.Error(), Err: err}
}

// Backend wraps err as a KindBackend failure, keeping its message.
func Backend(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindBackend, Message: err.Error(), Err: err}
}

// HTTPStatus maps a dispatch error to the status code the HTTP transport
// answers with. A nil error is 200.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	switch KindOf(err) {
	case KindNotFound:
		return 404
	case KindInvalidParams, KindHandler:
		return 400
	case KindForbidden:
		return 403
	case KindBackend:
		return 502
	default:
		return 500
	}
}
