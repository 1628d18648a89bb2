package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/sandbox"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

type executeCommandParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

var executeCommandSchema = fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "command": {"type": "string", "minLength": 1},
    "args": {"type": "array", "items": {"type": "string"}, "maxItems": %d, "default": []}
  },
  "required": ["command"]
}`, sandbox.MaxArgs)

func executeCommandTool(allow *sandbox.Allowlist, runner sandbox.Runner, timeout time.Duration) *tools.Tool {
	if timeout <= 0 {
		timeout = sandbox.DefaultTimeout
	}
	return tools.MustNew(tools.Spec[executeCommandParams]{
		Name:        NameExecuteCommand,
		Description: "Run an allowlisted command (" + strings.Join(allow.Names(), ", ") + ") with a hard timeout",
		Schema:      json.RawMessage(executeCommandSchema),
		Reporting:   tools.Propagating,
		Handle: func(ctx context.Context, p executeCommandParams) (*tools.Result, error) {
			if err := allow.Check(p.Command, p.Args); err != nil {
				return nil, err
			}
			out, err := runner.Run(ctx, sandbox.Command{Name: p.Command, Args: p.Args, Timeout: timeout})
			if err != nil {
				return nil, err
			}
			res := tools.Text(transcript(p.Command, p.Args, out, timeout))
			res.IsError = out.TimedOut
			return res, nil
		},
	})
}

func transcript(command string, args []string, out *sandbox.Outcome, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s %s\nExit code: %d\n\nStdout:\n%s\n\nStderr:\n%s",
		command, strings.Join(args, " "), out.ExitCode, out.Stdout, out.Stderr)
	if out.Truncated {
		fmt.Fprintf(&b, "\n\nOutput truncated to %d bytes per stream", sandbox.MaxOutputBytes)
	}
	if out.TimedOut {
		fmt.Fprintf(&b, "\n\nTimed out after %s", timeout)
	}
	return b.String()
}
