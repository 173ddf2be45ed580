// Package tools implements the tool contract consumed by the orchestrator
// and the built-in tool set: docs-jailed file reads, document search,
// read-only SQL, a mock email sink, and an external encyclopedia lookup.
// Every result carries provenance metadata; the monitor and the taint
// machinery depend on it.
package tools

import (
	"context"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// Result is what every tool returns: success flag, payload, optional error
// text, and metadata that always includes provenance.
type Result struct {
	OK     bool           `json:"ok"`
	Result any            `json:"result"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta"`
}

// Tool is a single external capability.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) Result
}

// Registry holds the tools available to a session.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func metaWith(prov guard.Provenance) map[string]any {
	return map[string]any{"provenance": prov}
}

func okResult(payload any, prov guard.Provenance) Result {
	return Result{OK: true, Result: payload, Meta: metaWith(prov)}
}

func errResult(msg string, prov guard.Provenance) Result {
	return Result{OK: false, Error: msg, Meta: metaWith(prov)}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
