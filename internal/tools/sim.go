package tools

import (
	"context"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// SimTool returns a canned successful result with realistic provenance.
// The batch evaluator uses simulated tools so verdict traces are
// reproducible without a database or network access.
type SimTool struct {
	ToolName   string
	Provenance guard.Provenance
	Payload    any
}

// Name implements Tool.
func (s *SimTool) Name() string { return s.ToolName }

// Invoke implements Tool.
func (s *SimTool) Invoke(_ context.Context, _ map[string]any) Result {
	return okResult(s.Payload, s.Provenance)
}

// NewSimulatedRegistry builds a registry whose tools never touch external
// systems but preserve the provenance semantics of the real ones,
// including the tainted flag on web lookups.
func NewSimulatedRegistry() *Registry {
	return NewRegistry(
		&SimTool{
			ToolName:   "read_file",
			Provenance: guard.Provenance{Source: "file", Tainted: false},
			Payload:    "(simulated file content)",
		},
		&SimTool{
			ToolName:   "search_docs",
			Provenance: guard.Provenance{Source: "internal", Tainted: false},
			Payload:    []map[string]any{},
		},
		&SimTool{
			ToolName:   "run_sql",
			Provenance: guard.Provenance{Source: "db", Tainted: false},
			Payload:    []map[string]any{},
		},
		&SimTool{
			ToolName:   "send_email",
			Provenance: guard.Provenance{Source: "egress", Tainted: false, Extra: map[string]any{"channel": "email"}},
			Payload:    map[string]any{"delivered": true},
		},
		&SimTool{
			ToolName:   "search_wikipedia",
			Provenance: guard.Provenance{Source: "web", Tainted: true},
			Payload:    map[string]any{"title": "Simulated", "text": "(simulated summary)"},
		},
	)
}
