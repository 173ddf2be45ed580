package policy

import (
	"fmt"
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/signals"
	"github.com/ShirePyDev/runtime-agent-guard/internal/sqlscan"
)

// Risk assigned when the query could not be parsed at all.
const sqlParseUncertainRisk = 0.6

const sqlMissingQueryRisk = 0.40

// MissingSQLQuery covers a run_sql call with an empty query argument.
// Malformed input is surfaced, never silently allowed.
func MissingSQLQuery() guard.Decision {
	d := decision(guard.VerdictAsk,
		"No SQL query was provided.",
		sqlMissingQueryRisk,
		guard.CodeSQLMissingQuery)
	d.Metadata["provenance"] = guard.Provenance{Source: "db", Tainted: false}
	return d
}

// EvaluateSQL applies the SQL decision table to finalized signals.
// Conditions are evaluated strictly in order:
//
//  1. strict mode and any classified hit        -> BLOCK
//  2. base score >= high_risk_block             -> BLOCK
//  3. base score >= ask_threshold or no LIMIT   -> ASK
//  4. parse failure                             -> ASK (never silent ALLOW)
//  5. otherwise                                 -> ALLOW
func EvaluateSQL(sig *signals.Signals, ent sqlscan.Entities, cfg guard.PolicyConfig) guard.Decision {
	classified := sig.ClassifiedHits()
	classifiedKeys := make([]string, 0, len(classified))
	for _, h := range classified {
		classifiedKeys = append(classifiedKeys, h.Key)
	}

	var d guard.Decision
	switch {
	case cfg.Mode == guard.ModeStrict && len(classified) > 0:
		d = decision(guard.VerdictBlock,
			fmt.Sprintf("Strict mode: query touches classified data (%s).", strings.Join(classifiedKeys, ", ")),
			maxf(sig.BaseScore, 0.85),
			guard.CodeSQLClassifiedBlockStrict)

	case sig.BaseScore >= cfg.HighRiskBlock:
		d = decision(guard.VerdictBlock,
			topReason(sig, "Critical classified access."),
			sig.BaseScore,
			guard.CodeSQLCriticalClassified)

	case sig.BaseScore >= cfg.AskThreshold || ent.MissingLimit:
		codes := make([]string, 0, 2)
		if len(classified) > 0 {
			codes = append(codes, guard.CodeSQLClassifiedAsk)
		}
		if ent.MissingLimit {
			codes = append(codes, guard.CodeSQLMissingLimit)
		}
		if len(codes) == 0 {
			// Score crossed the threshold on taint or priors alone.
			codes = append(codes, guard.CodeSQLClassifiedAsk)
		}
		d = decision(guard.VerdictAsk,
			topReason(sig, "Query requires confirmation."),
			sig.BaseScore, codes...)

	case !ent.ParsedOK:
		d = decision(guard.VerdictAsk,
			"Could not parse SQL reliably; confirm intent.",
			maxf(sig.BaseScore, sqlParseUncertainRisk),
			guard.CodeSQLParseUncertain)

	default:
		d = decision(guard.VerdictAllow,
			"No sensitive tables or columns detected.",
			sig.BaseScore,
			guard.CodeSQLLow)
	}

	cols := make([]string, 0, len(ent.Columns))
	for _, c := range ent.Columns {
		cols = append(cols, c.Key())
	}
	d.Metadata["signals"] = map[string]any{
		"tables":        ent.Tables,
		"columns":       cols,
		"missing_limit": ent.MissingLimit,
	}
	d.Metadata["classified_hit"] = len(classified) > 0
	d.Metadata["classified_keys"] = classifiedKeys
	d.Metadata["provenance"] = guard.Provenance{Source: "db", Tainted: false}
	return d
}

func topReason(sig *signals.Signals, fallback string) string {
	if len(sig.Reasons) > 0 {
		return sig.Reasons[0]
	}
	return fallback
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
