package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// MaxArgs bounds the number of arguments a command may receive.
const MaxArgs = 64

// Rule allows one executable. When ArgPattern is set every argument must
// match it in full.
type Rule struct {
	Name       string
	ArgPattern string
}

// Allowlist decides which commands the executeCommand tool may run.
type Allowlist struct {
	rules map[string]*regexp.Regexp
	names []string
}

// NewAllowlist compiles rules. Patterns are anchored at both ends.
func NewAllowlist(rules []Rule) (*Allowlist, error) {
	a := &Allowlist{rules: make(map[string]*regexp.Regexp, len(rules))}
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("allow[%d]: name is required", i)
		}
		if _, dup := a.rules[r.Name]; dup {
			return nil, fmt.Errorf("allow[%d]: duplicate command %q", i, r.Name)
		}
		var re *regexp.Regexp
		if r.ArgPattern != "" {
			var err error
			re, err = regexp.Compile(`^(?:` + r.ArgPattern + `)$`)
			if err != nil {
				return nil, fmt.Errorf("allow[%d] %q: argPattern: %w", i, r.Name, err)
			}
		}
		a.rules[r.Name] = re
		a.names = append(a.names, r.Name)
	}
	return a, nil
}

// Len reports how many commands are allowed.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.names)
}

// Names returns the allowed commands in configuration order.
func (a *Allowlist) Names() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.names...)
}

// Check returns a tools.Forbidden error unless command and args are
// allowed.
func (a *Allowlist) Check(command string, args []string) error {
	if a == nil {
		return tools.Forbidden("command %q is not allowed", command)
	}
	re, ok := a.rules[command]
	if !ok {
		return tools.Forbidden("command %q is not allowed", command)
	}
	if len(args) > MaxArgs {
		return tools.Forbidden("too many arguments: %d (max %d)", len(args), MaxArgs)
	}
	for i, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return tools.Forbidden("argument %d contains a NUL byte", i)
		}
		if re != nil && !re.MatchString(arg) {
			return tools.Forbidden("argument %d is not allowed for %q", i, command)
		}
	}
	return nil
}
