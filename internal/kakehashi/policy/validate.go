package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads, parses and validates a policy file.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a policy document, fills in defaults and validates it.
// Unknown keys are rejected so that typos do not silently loosen the
// policy.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("policy parse: %w", err)
	}
	p.applyDefaults()
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks a Policy for structural correctness. It returns the first
// problem found.
func Validate(p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy must not be nil")
	}

	if strings.TrimSpace(p.Files.Root) == "" {
		return fmt.Errorf("files.root must not be empty")
	}
	if p.Files.MaxBytes < 0 {
		return fmt.Errorf("files.maxBytes must not be negative")
	}

	if err := validateCommands(p.Commands); err != nil {
		return fmt.Errorf("commands: %w", err)
	}

	for i, name := range p.Tools.Disabled {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tools.disabled[%d]: name must not be empty", i)
		}
	}
	return nil
}

func validateCommands(c Commands) error {
	switch c.Runner {
	case RunnerLocal:
	case RunnerDocker:
		if c.Image == "" {
			return fmt.Errorf("image is required for the docker runner")
		}
	default:
		return fmt.Errorf("runner must be %q or %q, got %q", RunnerLocal, RunnerDocker, c.Runner)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Timeout > MaxTimeout {
		return fmt.Errorf("timeout %s exceeds the maximum of %s", c.Timeout, MaxTimeout)
	}

	seen := make(map[string]struct{}, len(c.Allow))
	for i, rule := range c.Allow {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("allow[%d] (%q): %w", i, rule.Name, err)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("allow[%d]: duplicate command %q", i, rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}
	return nil
}

func validateRule(r AllowRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.ContainsAny(r.Name, `/\`) && !filepath.IsAbs(r.Name) {
		return fmt.Errorf("relative paths are not allowed; use a bare name or an absolute path")
	}
	if r.ArgPattern != "" {
		if _, err := regexp.Compile(r.ArgPattern); err != nil {
			return fmt.Errorf("argPattern: %w", err)
		}
	}
	return nil
}
