package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a command when the policy sets none.
	DefaultTimeout = 30 * time.Second
	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes = 64 << 10
)

// Command is one allowlisted invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Outcome is what a finished (or killed) command produced.
type Outcome struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Runner executes commands. Run returns an error only when the command
// could not be started; a non-zero exit or a timeout is reported in the
// Outcome.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Outcome, error)
}

// LocalRunner runs commands as child processes of the bridge, in Dir with
// a minimal environment and no stdin.
type LocalRunner struct {
	Dir string
}

// Run implements Runner.
func (r LocalRunner) Run(ctx context.Context, cmd Command) (*Outcome, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, err := exec.LookPath(cmd.Name)
	if err != nil {
		return nil, fmt.Errorf("executable %q not found: %w", cmd.Name, err)
	}

	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Dir = r.Dir
	c.Env = minimalEnv()
	c.WaitDelay = time.Second
	stdout := &cappedBuffer{limit: MaxOutputBytes}
	stderr := &cappedBuffer{limit: MaxOutputBytes}
	c.Stdout = stdout
	c.Stderr = stderr

	start := time.Now()
	runErr := c.Run()
	out := &Outcome{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run %s: %w", cmd.Name, runErr)
	}
	return out, nil
}

func minimalEnv() []string {
	var env []string
	for _, k := range []string{"PATH", "HOME", "LANG"} {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest while still reporting full writes, so the child never sees EPIPE.
type cappedBuffer struct {
	b         strings.Builder
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.b.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.b.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.b.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.b.String() }
