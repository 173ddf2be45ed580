// Package policy implements the pure decision engine: given extracted
// signals, session context, and the policy configuration it produces a
// Decision. Rule ordering inside each table is part of the contract and is
// encoded as fixed lists evaluated left to right.
package policy

import (
	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

func decision(v guard.Verdict, reason string, risk float64, codes ...string) guard.Decision {
	return guard.Decision{
		Verdict:     v,
		Reason:      reason,
		RiskScore:   clip01(risk),
		ReasonCodes: codes,
		Metadata:    map[string]any{},
	}
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
