// Package opagate integrates Open Policy Agent as an optional
// policy-as-code pre-gate in front of the monitor's per-tool handlers.
// Operators can veto whole tools or operations per deployment with Rego
// without touching the decision tables.
package opagate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog/log"
)

// Gate evaluates tool-access policy. Safe for concurrent use.
type Gate struct {
	mu          sync.RWMutex
	query       *rego.PreparedEvalQuery
	store       storage.Store
	initialized bool
}

// Input is the tool-access evaluation input.
type Input struct {
	Tool      string `json:"tool"`
	Operation string `json:"operation"`
	Goal      string `json:"goal"`
}

// New creates an empty gate; load a policy before using it.
func New() *Gate {
	return &Gate{store: inmem.New()}
}

// Ready reports whether a policy has been loaded.
func (g *Gate) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initialized
}

// LoadPolicies loads Rego policy files or directories.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	txn, err := g.store.NewTransaction(ctx, storage.WriteParams)
	if err != nil {
		return fmt.Errorf("starting storage transaction: %w", err)
	}

	r := rego.New(
		rego.Query("data.guard.tool_access"),
		rego.Store(g.store),
		rego.Transaction(txn),
		rego.Load(paths, nil),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		g.store.Abort(ctx, txn)
		return fmt.Errorf("preparing tool access policy: %w", err)
	}
	if err := g.store.Commit(ctx, txn); err != nil {
		return fmt.Errorf("committing storage transaction: %w", err)
	}
	g.query = &pq
	g.initialized = true
	return nil
}

// LoadBundle loads a policy bundle from a tar.gz file.
func (g *Gate) LoadBundle(ctx context.Context, bundlePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	txn, err := g.store.NewTransaction(ctx, storage.WriteParams)
	if err != nil {
		return fmt.Errorf("starting storage transaction: %w", err)
	}

	r := rego.New(
		rego.Query("data.guard.tool_access"),
		rego.Store(g.store),
		rego.Transaction(txn),
		rego.LoadBundle(bundlePath),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		g.store.Abort(ctx, txn)
		return fmt.Errorf("loading policy bundle: %w", err)
	}
	if err := g.store.Commit(ctx, txn); err != nil {
		return fmt.Errorf("committing storage transaction: %w", err)
	}
	g.query = &pq
	g.initialized = true
	return nil
}

// UpdateData writes policy data (e.g. the per-deployment tool allowlist)
// using the OPA storage transaction API.
func (g *Gate) UpdateData(ctx context.Context, path string, data any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	txn, err := g.store.NewTransaction(ctx, storage.WriteParams)
	if err != nil {
		return fmt.Errorf("starting storage transaction: %w", err)
	}
	storagePath, ok := storage.ParsePath("/" + path)
	if !ok {
		g.store.Abort(ctx, txn)
		return fmt.Errorf("invalid storage path: %s", path)
	}
	if err := g.store.Write(ctx, txn, storage.AddOp, storagePath, data); err != nil {
		g.store.Abort(ctx, txn)
		return fmt.Errorf("writing to storage path %s: %w", path, err)
	}
	if err := g.store.Commit(ctx, txn); err != nil {
		g.store.Abort(ctx, txn)
		return fmt.Errorf("committing storage transaction: %w", err)
	}
	return nil
}

// Check implements the monitor's AccessGate interface. The result defaults
// to deny when the policy yields no opinion.
func (g *Gate) Check(ctx context.Context, tool, operation, goal string) (bool, []string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.query == nil {
		return false, nil, fmt.Errorf("no tool access policy loaded")
	}

	start := time.Now()
	results, err := g.query.Eval(ctx, rego.EvalInput(Input{Tool: tool, Operation: operation, Goal: goal}))
	if err != nil {
		return false, nil, fmt.Errorf("tool access evaluation: %w", err)
	}
	log.Debug().Str("tool", tool).Dur("elapsed", time.Since(start)).Msg("tool access gate evaluated")

	allowed := false
	var reasons []string
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		switch value := results[0].Expressions[0].Value.(type) {
		case bool:
			allowed = value
		case map[string]any:
			if a, ok := value["allow"].(bool); ok {
				allowed = a
			}
			if rs, ok := value["deny_reasons"].([]any); ok {
				for _, r := range rs {
					if s, ok := r.(string); ok {
						reasons = append(reasons, s)
					}
				}
			}
		}
	}
	return allowed, reasons, nil
}

// BaseToolAccessPolicy is the default Rego policy: tools must appear on the
// configured allowlist and never on the blocklist.
const BaseToolAccessPolicy = `
package guard.tool_access

import future.keywords.in

default allow = false

allow {
    tool_allowed
    not tool_blocked
}

tool_allowed {
    input.tool in data.policies.allowed_tools
}

tool_blocked {
    input.tool in data.policies.blocked_tools
}

deny_reasons[reason] {
    not tool_allowed
    reason := sprintf("Tool '%s' is not on the allowlist", [input.tool])
}

deny_reasons[reason] {
    tool_blocked
    reason := sprintf("Tool '%s' is explicitly blocked", [input.tool])
}
`
