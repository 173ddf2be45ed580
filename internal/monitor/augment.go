package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const (
	repetitionWindow    = 6
	repeatedBlockCount  = 2
	repeatedAskCount    = 3
	repeatedBlockRisk   = 0.95
	repeatedAskRisk     = 0.75
	budgetExhaustedRisk = 0.95

	argsHashHexLen = 16
	argsPreviewLen = 160
	goalPreviewLen = 120
)

// applyRepetition escalates decisions when the recent history for the same
// tool shows a pattern of refusals. The window is over physical history
// order, not wall-clock time.
func (m *Monitor) applyRepetition(d *guard.Decision, tool string, history []guard.StepRecord) {
	var same []guard.StepRecord
	for _, step := range history {
		if step.Tool == tool {
			same = append(same, step)
		}
	}
	if len(same) > repetitionWindow {
		same = same[len(same)-repetitionWindow:]
	}

	blocks, asks := 0, 0
	for _, step := range same {
		switch step.Decision {
		case guard.VerdictBlock:
			blocks++
		case guard.VerdictAsk:
			asks++
		}
	}

	if blocks >= repeatedBlockCount && d.Verdict != guard.VerdictAllow {
		d.Verdict = guard.VerdictBlock
		d.Reason = "Repeated blocked attempts with this tool; refusing further tries. " + d.Reason
		d.ReasonCodes = append(d.ReasonCodes, guard.CodeRepeatedBlocks)
		if d.RiskScore < repeatedBlockRisk {
			d.RiskScore = repeatedBlockRisk
		}
		return
	}
	if asks >= repeatedAskCount && d.Verdict == guard.VerdictAsk {
		d.ReasonCodes = append(d.ReasonCodes, guard.CodeRepeatedAsks)
		if d.RiskScore < repeatedAskRisk {
			d.RiskScore = repeatedAskRisk
		}
	}
}

// applyAudit attaches the default audit metadata: the tool, a stable short
// hash of the arguments, and previews of the arguments and goal.
func (m *Monitor) applyAudit(d *guard.Decision, tool, goal string, args map[string]any) {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	d.Metadata["tool"] = tool
	d.Metadata["args_hash"] = argsHash(args)
	d.Metadata["args_preview"] = truncate(canonicalJSON(args), argsPreviewLen)
	d.Metadata["goal_preview"] = truncate(goal, goalPreviewLen)
}

// argsHash is the first 16 hex chars of SHA-256 over canonical JSON of the
// arguments. encoding/json sorts map keys, which makes the encoding
// canonical for the argument shapes tools accept.
func argsHash(args map[string]any) string {
	sum := sha256.Sum256([]byte(canonicalJSON(args)))
	return hex.EncodeToString(sum[:])[:argsHashHexLen]
}

func canonicalJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// applyBudget deducts the risk score from the session budget on ALLOW only:
// ASK and BLOCK reflect unapproved or denied intent, and deducting for them
// would double-count. The remaining budget then gates the verdict.
func (m *Monitor) applyBudget(d *guard.Decision, session *guard.SessionState) {
	if session == nil {
		return
	}
	if d.Verdict == guard.VerdictAllow {
		session.RiskBudget -= d.RiskScore
	}
	remaining := session.RiskBudget
	d.Metadata["risk_budget"] = remaining

	if remaining < m.cfg.RiskBudgetBlockThreshold {
		d.Verdict = guard.VerdictBlock
		d.Reason = "Session risk budget exhausted. " + d.Reason
		d.ReasonCodes = append(d.ReasonCodes, guard.CodeRiskBudgetExhausted)
		if d.RiskScore < budgetExhaustedRisk {
			d.RiskScore = budgetExhaustedRisk
		}
		return
	}
	if remaining < m.cfg.RiskBudgetAskThreshold && d.Verdict == guard.VerdictAllow {
		d.Verdict = guard.VerdictAsk
		d.Reason = "Session risk budget is low; confirm this action. " + d.Reason
		d.ReasonCodes = append(d.ReasonCodes, guard.CodeRiskBudgetLowEscalate)
	}
}

// applyHardBlock is the final safety net: no decision with a risk score at
// or above the hard-block threshold may leave the monitor as anything but
// BLOCK.
func (m *Monitor) applyHardBlock(d *guard.Decision) {
	if d.RiskScore >= m.cfg.HighRiskBlock && d.Verdict != guard.VerdictBlock {
		d.Verdict = guard.VerdictBlock
		d.ReasonCodes = append(d.ReasonCodes, guard.CodeHighRiskHardBlock)
		d.Reason = "Risk score exceeds the hard-block threshold. " + d.Reason
	}
}
