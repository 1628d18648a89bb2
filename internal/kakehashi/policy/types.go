// Package policy loads the YAML policy file that decides what the file and
// command tools may touch and which tools are registered at all.
//
// A minimal policy:
//
//	files:
//	  root: ./workspace
//	commands:
//	  allow:
//	    - name: echo
package policy

import "time"

// Runner names accepted in commands.runner.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

const (
	// DefaultRoot is the files root when none is configured.
	DefaultRoot = "./workspace"
	// DefaultMaxBytes caps file reads and writes.
	DefaultMaxBytes = 4 << 20
	// DefaultTimeout bounds one command.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the largest accepted commands.timeout.
	MaxTimeout = 10 * time.Minute
)

// Policy is the root of the policy document.
type Policy struct {
	Files    Files    `yaml:"files"`
	Commands Commands `yaml:"commands"`
	Tools    Tools    `yaml:"tools"`
}

// Files configures the readFile, writeFile and listDirectory tools.
type Files struct {
	// Root is the directory all paths are resolved under.
	Root     string `yaml:"root"`
	ReadOnly bool   `yaml:"readOnly"`
	// MaxBytes caps a single read or write.
	MaxBytes int64 `yaml:"maxBytes"`
}

// Commands configures executeCommand. The tool is only registered when
// Allow is non-empty.
type Commands struct {
	// Runner is "local" (child process) or "docker" (throwaway container).
	Runner  string        `yaml:"runner"`
	Image   string        `yaml:"image"`
	Timeout time.Duration `yaml:"timeout"`
	Allow   []AllowRule   `yaml:"allow"`
}

// AllowRule permits one executable.
type AllowRule struct {
	Name string `yaml:"name"`
	// ArgPattern, when set, must match every argument in full.
	ArgPattern string `yaml:"argPattern"`
}

// Tools switches individual tools off.
type Tools struct {
	Disabled []string `yaml:"disabled"`
}

// Default returns the policy used when no policy file is given: files under
// ./workspace, writable, and no commands.
func Default() *Policy {
	p := &Policy{}
	p.applyDefaults()
	return p
}

func (p *Policy) applyDefaults() {
	if p.Files.Root == "" {
		p.Files.Root = DefaultRoot
	}
	if p.Files.MaxBytes == 0 {
		p.Files.MaxBytes = DefaultMaxBytes
	}
	if p.Commands.Runner == "" {
		p.Commands.Runner = RunnerLocal
	}
	if p.Commands.Timeout == 0 {
		p.Commands.Timeout = DefaultTimeout
	}
}

// IsDisabled reports whether the named tool is switched off.
func (p *Policy) IsDisabled(tool string) bool {
	for _, d := range p.Tools.Disabled {
		if d == tool {
			return true
		}
	}
	return false
}
