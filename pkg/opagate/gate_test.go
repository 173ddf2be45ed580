package opagate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoadedGate(t *testing.T) *Gate {
	t.Helper()
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "tool_access.rego")
	require.NoError(t, os.WriteFile(policyPath, []byte(BaseToolAccessPolicy), 0o644))

	g := New()
	ctx := context.Background()
	require.NoError(t, g.UpdateData(ctx, "policies", map[string]any{
		"allowed_tools": []string{"run_sql", "search_docs"},
		"blocked_tools": []string{"send_email"},
	}))
	require.NoError(t, g.LoadPolicies(ctx, []string{policyPath}))
	require.True(t, g.Ready())
	return g
}

func TestGateAllowsListedTool(t *testing.T) {
	g := newLoadedGate(t)

	allowed, reasons, err := g.Check(context.Background(), "run_sql", "query", "summarize sales")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reasons)
}

func TestGateDeniesUnlistedTool(t *testing.T) {
	g := newLoadedGate(t)

	allowed, reasons, err := g.Check(context.Background(), "delete_universe", "unknown", "chaos")
	require.NoError(t, err)
	assert.False(t, allowed)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "delete_universe")
}

func TestGateDeniesBlockedTool(t *testing.T) {
	g := newLoadedGate(t)

	allowed, _, err := g.Check(context.Background(), "send_email", "send", "email results")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGateWithoutPolicyErrors(t *testing.T) {
	g := New()
	_, _, err := g.Check(context.Background(), "run_sql", "query", "goal")
	assert.Error(t, err)
	assert.False(t, g.Ready())
}
