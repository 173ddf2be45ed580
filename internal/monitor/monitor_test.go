package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShirePyDev/runtime-agent-guard/internal/classify"
	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const testClassifierConfig = `{
  "tables": {
    "users": { "sensitivity": "high", "score": 0.8, "tags": ["pii"] },
    "api_keys": { "sensitivity": "critical", "score": 1.0, "tags": ["secrets"] },
    "sales": { "sensitivity": "low", "score": 0.1, "tags": [] }
  },
  "columns": {
    "users.email": { "sensitivity": "critical", "score": 1.0, "tags": ["pii"] }
  },
  "column_name_heuristics": {
    "email": { "sensitivity": "medium", "score": 0.6, "tags": ["pii"] }
  }
}`

func newTestMonitor(t *testing.T, mode guard.PolicyMode) (*Monitor, *guard.SessionState) {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "classification.json")
	require.NoError(t, os.WriteFile(configPath, []byte(testClassifierConfig), 0o644))
	classifier, err := classify.Load(configPath)
	require.NoError(t, err)

	docs := filepath.Join(dir, "data", "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "example.txt"), []byte("hello"), 0o644))

	cfg := guard.DefaultPolicyConfig(mode)
	cfg.AllowedDocsBase = docs
	cfg.InternalEmailDomains = []string{"corp.example.com"}

	return New(classifier, cfg), guard.NewSessionState(cfg)
}

func taintedWikiStep(query string) guard.StepRecord {
	return guard.StepRecord{
		Tool:     "search_wikipedia",
		Args:     map[string]any{"query": query},
		Decision: guard.VerdictAllow,
		ToolMeta: map[string]any{"provenance": guard.Provenance{Source: "web", Tainted: true}},
	}
}

func TestBenignSalesQueryAllowed(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day, amount FROM sales LIMIT 50"}, nil, session)

	assert.Equal(t, guard.VerdictAllow, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLLow}, d.ReasonCodes)
	assert.Less(t, d.RiskScore, 0.2)
}

func TestClassifiedUsersQueryAsks(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT name, email FROM users LIMIT 50"}, nil, session)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLClassifiedAsk}, d.ReasonCodes)
	assert.Equal(t, true, d.Metadata["classified_hit"])
}

func TestStrictBlocksClassifiedQuery(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeStrict)

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT email FROM users LIMIT 10"}, nil, session)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeSQLClassifiedBlockStrict)
}

func TestEmptyQueryAsks(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Check stats", "run_sql", map[string]any{}, nil, session)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLMissingQuery}, d.ReasonCodes)
}

func TestPathTraversalBlocked(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Read docs", "read_file",
		map[string]any{"path": "../../.ssh/id_rsa"}, nil, session)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeFileOutsideAllowedDir)
}

func TestEmailSecretBlocked(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Email the results", "send_email", map[string]any{
		"to": "a@b.com", "subject": "x", "body": "Here is the API key: sk-test-SECRET",
	}, nil, session)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeEmailContainsSecrets)
}

func TestUnknownToolAsks(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Do something", "delete_universe", map[string]any{}, nil, session)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeUnknownTool)
}

func TestEgressAfterClassifiedSession(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)
	session.ClassifiedAccessed = true

	d := m.Evaluate(context.Background(), "Email the results", "send_email", map[string]any{
		"to": "x@external.com", "subject": "summary", "body": "summary",
	}, nil, session)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Equal(t, []string{guard.CodeEgressAfterClassifiedAsk}, d.ReasonCodes)
	assert.InDelta(t, 0.85, d.RiskScore, 1e-9)
}

func TestDeterminism(t *testing.T) {
	run := func() guard.Decision {
		m, session := newTestMonitor(t, guard.ModeBalanced)
		return m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
			map[string]any{"query": "SELECT name, email FROM users LIMIT 50"}, nil, session)
	}
	a, b := run(), run()

	assert.Equal(t, a.Verdict, b.Verdict)
	assert.Equal(t, a.ReasonCodes, b.ReasonCodes)
	assert.InDelta(t, a.RiskScore, b.RiskScore, 1e-9)
	assert.Equal(t, a.Metadata["args_hash"], b.Metadata["args_hash"])
}

func TestStrictModeAtLeastAsRestrictive(t *testing.T) {
	cases := []struct {
		goal string
		tool string
		args map[string]any
	}{
		{"Summarize sales trends", "run_sql", map[string]any{"query": "SELECT day, amount FROM sales LIMIT 50"}},
		{"Summarize sales trends", "run_sql", map[string]any{"query": "SELECT email FROM users LIMIT 10"}},
		{"Email the results", "send_email", map[string]any{"to": "a@b.com", "body": "hello there"}},
		{"Research databases", "search_wikipedia", map[string]any{"query": "relational database"}},
		{"Do something", "unknown_gadget", map[string]any{}},
	}
	for _, tc := range cases {
		mb, sb := newTestMonitor(t, guard.ModeBalanced)
		ms, ss := newTestMonitor(t, guard.ModeStrict)

		db := mb.Evaluate(context.Background(), tc.goal, tc.tool, tc.args, nil, sb)
		ds := ms.Evaluate(context.Background(), tc.goal, tc.tool, tc.args, nil, ss)

		assert.GreaterOrEqual(t, ds.Verdict.Rank(), db.Verdict.Rank(),
			"tool=%s args=%v", tc.tool, tc.args)
	}
}

func TestHardBlockDominance(t *testing.T) {
	inputs := []struct {
		goal string
		tool string
		args map[string]any
	}{
		{"Summarize sales trends", "run_sql", map[string]any{"query": "SELECT * FROM users"}},
		{"Grab secrets", "run_sql", map[string]any{"query": "SELECT api_key FROM api_keys"}},
		{"Email the results", "send_email", map[string]any{"to": "a@b.com", "body": "password: x"}},
		{"Read docs", "read_file", map[string]any{"path": "../../etc/passwd"}},
	}
	for _, tc := range inputs {
		m, session := newTestMonitor(t, guard.ModeBalanced)
		d := m.Evaluate(context.Background(), tc.goal, tc.tool, tc.args, nil, session)
		if d.RiskScore >= 0.90 {
			assert.Equal(t, guard.VerdictBlock, d.Verdict, "args=%v risk=%f", tc.args, d.RiskScore)
		}
	}
}

func TestRepetitionEscalation(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	blocked := []guard.StepRecord{
		{Tool: "send_email", Decision: guard.VerdictBlock},
		{Tool: "send_email", Decision: guard.VerdictBlock},
	}
	d := m.Evaluate(context.Background(), "Email the results", "send_email", map[string]any{
		"to": "a@b.com", "subject": "s", "body": "plain note",
	}, blocked, session)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeRepeatedBlocks)
	assert.GreaterOrEqual(t, d.RiskScore, 0.95)
}

func TestRepeatedAsksRaiseRisk(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	asks := []guard.StepRecord{
		{Tool: "send_email", Decision: guard.VerdictAsk},
		{Tool: "send_email", Decision: guard.VerdictAsk},
		{Tool: "send_email", Decision: guard.VerdictAsk},
	}
	d := m.Evaluate(context.Background(), "Email the results", "send_email", map[string]any{
		"to": "a@external.com", "subject": "s", "body": "plain note",
	}, asks, session)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeRepeatedAsks)
	assert.GreaterOrEqual(t, d.RiskScore, 0.75)
}

func TestRepetitionIgnoresAllowDecisions(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	history := []guard.StepRecord{
		{Tool: "run_sql", Decision: guard.VerdictBlock},
		{Tool: "run_sql", Decision: guard.VerdictBlock},
	}
	// A fresh ALLOW is not escalated by prior blocks.
	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day, amount FROM sales LIMIT 50"}, history, session)

	assert.Equal(t, guard.VerdictAllow, d.Verdict)
	assert.NotContains(t, d.ReasonCodes, guard.CodeRepeatedBlocks)
}

func TestRiskBudgetDeductsOnAllowOnly(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)
	before := session.RiskBudget

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day, amount FROM sales LIMIT 50"}, nil, session)
	require.Equal(t, guard.VerdictAllow, d.Verdict)
	assert.InDelta(t, before-d.RiskScore, session.RiskBudget, 1e-9)

	// ASK does not deduct.
	beforeAsk := session.RiskBudget
	ask := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT email FROM users LIMIT 10"}, nil, session)
	require.Equal(t, guard.VerdictAsk, ask.Verdict)
	assert.Equal(t, beforeAsk, session.RiskBudget)
}

func TestRiskBudgetLowEscalatesToAsk(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)
	session.RiskBudget = 0.1

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day, amount FROM sales LIMIT 50"}, nil, session)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeRiskBudgetLowEscalate)
}

func TestRiskBudgetExhaustedBlocks(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)
	session.RiskBudget = -0.6

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day, amount FROM sales LIMIT 50"}, nil, session)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeRiskBudgetExhausted)
}

func TestTaintInferenceSuppressesInternalShortcut(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)
	history := []guard.StepRecord{taintedWikiStep("quantum widgets")}

	// Content references the tainted lookup: ASK.
	referencing := m.Evaluate(context.Background(), "Email the weekly report", "send_email", map[string]any{
		"to": "me@corp.example.com", "subject": "note", "body": "Summary of quantum widgets research",
	}, history, session)
	assert.Equal(t, guard.VerdictAsk, referencing.Verdict)
	assert.Equal(t, []string{guard.CodeEmailTaintedContent}, referencing.ReasonCodes)

	// Content does not reference the marker: the internal shortcut holds.
	clean := m.Evaluate(context.Background(), "Email the weekly report", "send_email", map[string]any{
		"to": "me@corp.example.com", "subject": "note", "body": "Weekly numbers attached",
	}, history, session)
	assert.Equal(t, guard.VerdictAllow, clean.Verdict)
	assert.Equal(t, []string{guard.CodeEmailAllowedInternalSafe}, clean.ReasonCodes)
}

func TestTaintWindowBounded(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	// The tainted step is pushed out of the 8-step window by newer steps.
	history := []guard.StepRecord{taintedWikiStep("quantum widgets")}
	for i := 0; i < 8; i++ {
		history = append(history, guard.StepRecord{
			Tool:     "search_docs",
			Decision: guard.VerdictAllow,
			ToolMeta: map[string]any{"provenance": guard.Provenance{Source: "internal"}},
		})
	}

	d := m.Evaluate(context.Background(), "Email the weekly report", "send_email", map[string]any{
		"to": "x@external.com", "subject": "note", "body": "Summary of quantum widgets research",
	}, history, session)

	assert.NotContains(t, d.ReasonCodes, guard.CodeEmailTaintedContent)
}

func TestIntentDriftOnDefaultTool(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	drifting := m.Evaluate(context.Background(), "Summarize sales trends", "search_docs",
		map[string]any{"query": "quantum entanglement protocols"}, nil, session)
	assert.Equal(t, guard.VerdictAsk, drifting.Verdict)
	assert.Contains(t, drifting.ReasonCodes, guard.CodeIntentDriftAsk)

	aligned := m.Evaluate(context.Background(), "Search the docs for sales trends", "search_docs",
		map[string]any{"query": "sales trends"}, nil, session)
	assert.Equal(t, guard.VerdictAllow, aligned.Verdict)
	assert.Contains(t, aligned.ReasonCodes, guard.CodeDefaultAllow)
}

type denyAllGate struct{}

func (denyAllGate) Check(context.Context, string, string, string) (bool, []string, error) {
	return false, []string{"tool not allowed in this deployment"}, nil
}

func TestAccessGateDenyBlocks(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)
	gated := New(m.classifier, m.cfg, WithAccessGate(denyAllGate{}))

	d := gated.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day FROM sales LIMIT 5"}, nil, session)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeToolAccessDenied)
	assert.Equal(t, "tool not allowed in this deployment", d.Reason)
}

func TestAuditMetadataAttached(t *testing.T) {
	m, session := newTestMonitor(t, guard.ModeBalanced)

	d := m.Evaluate(context.Background(), "Summarize sales trends", "run_sql",
		map[string]any{"query": "SELECT day FROM sales LIMIT 5"}, nil, session)

	assert.Equal(t, "run_sql", d.Metadata["tool"])
	hash, ok := d.Metadata["args_hash"].(string)
	require.True(t, ok)
	assert.Len(t, hash, 16)
	assert.NotEmpty(t, d.Metadata["args_preview"])
	assert.Equal(t, "Summarize sales trends", d.Metadata["goal_preview"])
	assert.Contains(t, d.Metadata, "risk_budget")
}
