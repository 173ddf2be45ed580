package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShirePyDev/runtime-agent-guard/internal/classify"
	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/signals"
	"github.com/ShirePyDev/runtime-agent-guard/internal/sqlscan"
)

func usersHit() classify.Hit {
	return classify.Hit{Kind: classify.KindTable, Key: "users", Sensitivity: classify.SensitivityHigh, Score: 0.8}
}

func sqlSignals(hits []classify.Hit, ent sqlscan.Entities, tainted bool) *signals.Signals {
	s := &signals.Signals{
		Tool:            "run_sql",
		Operation:       signals.OpQuery,
		Tables:          ent.Tables,
		Columns:         ent.Columns,
		SensitivityHits: hits,
		BulkIndicator:   ent.Bulk,
		MissingLimit:    ent.MissingLimit,
		TaintedInput:    tainted,
	}
	s.Finalize()
	return s
}

func TestSQLStrictBlocksClassified(t *testing.T) {
	cfg := guard.DefaultPolicyConfig(guard.ModeStrict)
	ent := sqlscan.Entities{Tables: []string{"users"}, ParsedOK: true}

	d := EvaluateSQL(sqlSignals([]classify.Hit{usersHit()}, ent, false), ent, cfg)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLClassifiedBlockStrict}, d.ReasonCodes)
}

func TestSQLCriticalBlock(t *testing.T) {
	cfg := guard.DefaultPolicyConfig(guard.ModeBalanced)
	ent := sqlscan.Entities{Tables: []string{"users"}, ParsedOK: true, MissingLimit: true, Bulk: true}

	// Classified + bulk + missing limit pushes the score past 0.90.
	d := EvaluateSQL(sqlSignals([]classify.Hit{usersHit()}, ent, false), ent, cfg)

	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLCriticalClassified}, d.ReasonCodes)
	assert.GreaterOrEqual(t, d.RiskScore, 0.90)
}

func TestSQLClassifiedAsk(t *testing.T) {
	cfg := guard.DefaultPolicyConfig(guard.ModeBalanced)
	ent := sqlscan.Entities{Tables: []string{"users"}, ParsedOK: true}

	d := EvaluateSQL(sqlSignals([]classify.Hit{usersHit()}, ent, false), ent, cfg)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLClassifiedAsk}, d.ReasonCodes)
	assert.Equal(t, true, d.Metadata["classified_hit"])
	assert.Equal(t, []string{"users"}, d.Metadata["classified_keys"])
}

func TestSQLMissingLimitAloneAsks(t *testing.T) {
	cfg := guard.DefaultPolicyConfig(guard.ModeBalanced)
	ent := sqlscan.Entities{Tables: []string{"sales"}, ParsedOK: true, MissingLimit: true, Bulk: true}

	d := EvaluateSQL(sqlSignals(nil, ent, false), ent, cfg)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Contains(t, d.ReasonCodes, guard.CodeSQLMissingLimit)
	assert.NotContains(t, d.ReasonCodes, guard.CodeSQLClassifiedAsk)
}

func TestSQLParseFailureAsks(t *testing.T) {
	cfg := guard.DefaultPolicyConfig(guard.ModeBalanced)
	ent := sqlscan.Entities{ParsedOK: false}

	d := EvaluateSQL(sqlSignals(nil, ent, false), ent, cfg)

	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLParseUncertain}, d.ReasonCodes)
}

func TestSQLLowAllows(t *testing.T) {
	cfg := guard.DefaultPolicyConfig(guard.ModeBalanced)
	ent := sqlscan.Entities{Tables: []string{"sales"}, ParsedOK: true}

	d := EvaluateSQL(sqlSignals(nil, ent, false), ent, cfg)

	require.Equal(t, guard.VerdictAllow, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLLow}, d.ReasonCodes)
	sig := d.Metadata["signals"].(map[string]any)
	assert.Equal(t, []string{"sales"}, sig["tables"])
	assert.Equal(t, false, sig["missing_limit"])
}

func TestSQLStrictAtLeastAsRestrictive(t *testing.T) {
	entCases := []struct {
		hits []classify.Hit
		ent  sqlscan.Entities
	}{
		{nil, sqlscan.Entities{Tables: []string{"sales"}, ParsedOK: true}},
		{[]classify.Hit{usersHit()}, sqlscan.Entities{Tables: []string{"users"}, ParsedOK: true}},
		{nil, sqlscan.Entities{ParsedOK: false}},
		{[]classify.Hit{usersHit()}, sqlscan.Entities{Tables: []string{"users"}, ParsedOK: true, MissingLimit: true, Bulk: true}},
	}
	balanced := guard.DefaultPolicyConfig(guard.ModeBalanced)
	strict := guard.DefaultPolicyConfig(guard.ModeStrict)

	for _, tc := range entCases {
		db := EvaluateSQL(sqlSignals(tc.hits, tc.ent, false), tc.ent, balanced)
		ds := EvaluateSQL(sqlSignals(tc.hits, tc.ent, false), tc.ent, strict)
		assert.GreaterOrEqual(t, ds.Verdict.Rank(), db.Verdict.Rank())
	}
}

func TestMissingSQLQuery(t *testing.T) {
	d := MissingSQLQuery()
	assert.Equal(t, guard.VerdictAsk, d.Verdict)
	assert.Equal(t, []string{guard.CodeSQLMissingQuery}, d.ReasonCodes)
}
