// Package tools holds the agent's tool catalogue and the dispatcher that
// executes tool calls under the turn policies.
package tools

import (
	"context"
	"encoding/json"

	"github.com/aristath/deepblue/internal/domain"
)

// ExecContext carries per-call execution state. A fresh value is built for
// every call so concurrent tool executions share nothing mutable.
type ExecContext struct {
	ThreadID string
}

// Tool is a single capability exposed to the model.
// Mutating tools change ledger state; at most one mutating call is honored
// per agent turn.
type Tool interface {
	Name() string
	Mutating() bool
	Execute(ctx context.Context, ec ExecContext, args json.RawMessage) (string, []domain.SideEffect, error)
}

// Registry is the fixed catalogue of tools, built once at startup
type Registry struct {
	byName map[string]Tool
	names  []string
}

// NewRegistry creates a registry from the given tools
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.byName[t.Name()] = t
		r.names = append(r.names, t.Name())
	}
	return r
}

// Get returns the named tool, if registered
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns the registered tool names in registration order
func (r *Registry) Names() []string {
	return r.names
}
