// Package retry runs operations against flaky remote services with
// exponential backoff.
//
// An operation signals that an error must not be retried by wrapping it with
// Permanent:
//
//	res, err := retry.Value(ctx, retry.DefaultPolicy, func() (*Reply, error) {
//	    reply, status, err := call()
//	    if status == http.StatusBadRequest {
//	        return nil, retry.Permanent(err)
//	    }
//	    return reply, err
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls the backoff schedule.
type Policy struct {
	// Attempts is the total number of tries including the first one.
	// Values below 1 mean a single try.
	Attempts int
	// Delay is the wait before the second try. It doubles after every
	// failed try, capped at MaxDelay.
	Delay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

// DefaultPolicy suits short request/response calls to a backend API.
var DefaultPolicy = Policy{
	Attempts: 3,
	Delay:    250 * time.Millisecond,
	MaxDelay: 5 * time.Second,
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is done. The last error is returned with the Permanent
// marker removed.
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := Value(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = DefaultPolicy.Delay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}

	var zero T
	var lastErr error
	delay := p.Delay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if attempt >= p.Attempts {
			return zero, lastErr
		}

		slog.Debug("retrying after failure", "attempt", attempt, "of", p.Attempts, "delay", delay, "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, p.MaxDelay)
	}
}
