package policy

import (
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const (
	wikiVagueRisk     = 0.40
	wikiAllowedRisk   = 0.15
	unknownToolRisk   = 0.60
	intentDriftRisk   = 0.55
	defaultAllowRisk  = 0.10
	minWikiQueryChars = 3
)

// EvaluateWiki decides an untrusted-source lookup. Results are always
// tainted provenance; an overly vague query requires confirmation.
func EvaluateWiki(query string) guard.Decision {
	compact := strings.Join(strings.Fields(query), "")
	if len(compact) < minWikiQueryChars {
		d := decision(guard.VerdictAsk,
			"Lookup query is too vague to assess.",
			wikiVagueRisk,
			guard.CodeWikiQueryVague)
		d.Metadata["provenance"] = guard.Provenance{Source: "web", Tainted: true}
		return d
	}
	d := decision(guard.VerdictAllow,
		"External lookup allowed; result will be treated as tainted.",
		wikiAllowedRisk,
		guard.CodeWikiAllowedTainted)
	d.Metadata["provenance"] = guard.Provenance{Source: "web", Tainted: true}
	return d
}

// EvaluateUnknown covers tools the monitor has no handler for.
func EvaluateUnknown(tool string) guard.Decision {
	d := decision(guard.VerdictAsk,
		"Unknown tool '"+tool+"'; confirm before execution.",
		unknownToolRisk,
		guard.CodeUnknownTool)
	d.Metadata["provenance"] = guard.Provenance{Source: "unknown", Tainted: true}
	return d
}

// EvaluateDefault covers known tools without a dedicated rule set: high
// intent drift requires confirmation, everything else is allowed.
func EvaluateDefault(drift float64, cfg guard.PolicyConfig) guard.Decision {
	if drift >= cfg.DriftAskThreshold {
		d := decision(guard.VerdictAsk,
			"Action text diverges from the stated goal; confirm intent.",
			intentDriftRisk,
			guard.CodeIntentDriftAsk)
		d.Metadata["provenance"] = guard.Provenance{Source: "internal", Tainted: false}
		d.Metadata["intent_drift"] = drift
		return d
	}
	d := decision(guard.VerdictAllow,
		"Action is consistent with the stated goal.",
		defaultAllowRisk,
		guard.CodeDefaultAllow)
	d.Metadata["provenance"] = guard.Provenance{Source: "internal", Tainted: false}
	d.Metadata["intent_drift"] = drift
	return d
}
