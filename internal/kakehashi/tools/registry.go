package tools

import (
	"log/slog"
	"sync"
)

// Registry maps tool names to tools and remembers insertion order.
// It is safe for concurrent use; tools may be registered while serving.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]int
	tools []*Tool
	log   *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger uses slog.Default.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{byKey: make(map[string]int), log: log}
}

// Register adds t. Registering a name twice replaces the earlier tool in
// place, keeping its position in the listing.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byKey[t.name]; ok {
		r.log.Warn("tool registered twice; replacing", "tool", t.name)
		r.tools[i] = t
		return
	}
	r.byKey[t.name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byKey[name]
	if !ok {
		return nil, false
	}
	return r.tools[i], true
}

// List returns the registered tools in insertion order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Catalog returns the descriptors of all tools in insertion order.
func (r *Registry) Catalog() []Descriptor {
	tools := r.List()
	out := make([]Descriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Descriptor())
	}
	return out
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
