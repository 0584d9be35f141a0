package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Tool is a query engine the router can dispatch to. Implementations must be
// safe for concurrent use: one registry is shared by every running task.
type Tool interface {
	Name() string
	// Description tells the router what questions the tool can answer.
	Description() string
	Query(ctx context.Context, text string) (string, error)
}

var ErrDuplicateTool = errors.New("tool already registered")

// Registry keeps tools in registration order; the order is what the router
// presents to the selector.
type Registry struct {
	mu     sync.RWMutex
	order  []Tool
	byName map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return errors.New("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.byName[name] = t
	r.order = append(r.order, t)
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	out := make([]Tool, len(r.order))
	copy(out, r.order)
	r.mu.RUnlock()
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Descriptor is the read-only view of a registered tool.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *Registry) Descriptors() []Descriptor {
	all := r.All()
	out := make([]Descriptor, len(all))
	for i, t := range all {
		out[i] = Descriptor{Name: t.Name(), Description: t.Description()}
	}
	return out
}
