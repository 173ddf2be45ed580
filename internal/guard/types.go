// Package guard defines the core data model shared by the monitor,
// the policy engine, and the orchestrator: verdicts, decisions, session
// state, step records, and provenance.
package guard

// Verdict is one of the three outcomes the monitor may emit.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictAsk   Verdict = "ASK"
	VerdictBlock Verdict = "BLOCK"
)

// Rank orders verdicts by restrictiveness: ALLOW < ASK < BLOCK.
func (v Verdict) Rank() int {
	switch v {
	case VerdictAllow:
		return 0
	case VerdictAsk:
		return 1
	case VerdictBlock:
		return 2
	}
	return -1
}

// Decision is the monitor's answer for a single proposed tool call.
// It is immutable once produced; the orchestrator consumes it exactly once.
type Decision struct {
	Verdict     Verdict        `json:"decision"`
	Reason      string         `json:"reason"`
	RiskScore   float64        `json:"risk_score"`
	ReasonCodes []string       `json:"reason_codes"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PolicyMode selects how aggressively rules resolve to BLOCK.
type PolicyMode string

const (
	ModeBalanced PolicyMode = "balanced"
	ModeStrict   PolicyMode = "strict"
)

// PolicyConfig is the per-session policy configuration. Immutable after
// session start.
type PolicyConfig struct {
	Mode PolicyMode `json:"mode"`

	// Score thresholds for the SQL decision table and the hard-block
	// override.
	HighRiskBlock float64 `json:"high_risk_block"`
	AskThreshold  float64 `json:"ask_threshold"`

	// Email egress controls.
	InternalEmailDomains []string `json:"internal_email_domains"`
	EmailDomainAllowlist []string `json:"email_domain_allowlist,omitempty"`

	// How many trailing history steps are scanned for taint.
	TaintHistoryWindow int `json:"taint_history_window"`

	// Per-session risk budget and its escalation thresholds.
	RiskBudget               float64 `json:"risk_budget"`
	RiskBudgetBlockThreshold float64 `json:"risk_budget_block_threshold"`
	RiskBudgetAskThreshold   float64 `json:"risk_budget_ask_threshold"`

	// Intent drift above this forces ASK for default-handled tools.
	DriftAskThreshold float64 `json:"drift_ask_threshold"`

	// Canonical base directory for read_file.
	AllowedDocsBase string `json:"allowed_docs_base"`
}

// DefaultPolicyConfig returns the documented defaults for a mode.
func DefaultPolicyConfig(mode PolicyMode) PolicyConfig {
	cfg := PolicyConfig{
		Mode:                     mode,
		HighRiskBlock:            0.90,
		AskThreshold:             0.60,
		InternalEmailDomains:     []string{"example.com"},
		TaintHistoryWindow:       8,
		RiskBudget:               3.0,
		RiskBudgetBlockThreshold: -0.5,
		RiskBudgetAskThreshold:   0.2,
		DriftAskThreshold:        0.85,
	}
	if mode == ModeStrict {
		cfg.RiskBudget = 2.0
	}
	return cfg
}

// Provenance is structured origin metadata attached by tools and carried
// through history. Web and unknown sources are always tainted.
type Provenance struct {
	Source  string         `json:"source"` // file | db | web | egress | internal | unknown
	Tainted bool           `json:"tainted"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// ProvenanceFrom recovers a Provenance from a tool meta value, which may be
// a typed Provenance or a generic map after a JSON round trip.
func ProvenanceFrom(v any) (Provenance, bool) {
	switch p := v.(type) {
	case Provenance:
		return p, true
	case *Provenance:
		if p != nil {
			return *p, true
		}
	case map[string]any:
		out := Provenance{}
		if s, ok := p["source"].(string); ok {
			out.Source = s
		}
		if t, ok := p["tainted"].(bool); ok {
			out.Tainted = t
		}
		if e, ok := p["extra"].(map[string]any); ok {
			out.Extra = e
		}
		return out, true
	}
	return Provenance{}, false
}

// Approval attribution values for StepRecord.ApprovedBy.
const (
	ApprovedByHuman          = "human"
	ApprovedByAutoConfirm    = "auto_confirm"
	ApprovedByNonInteractive = "non_interactive"
)

// Action is a single proposed tool call.
type Action struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// StepRecord is one entry of a session history. Appended once per step and
// immutable afterwards. ToolOK is nil for steps that never executed.
type StepRecord struct {
	Step        int            `json:"step"`
	Goal        string         `json:"goal"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Decision    Verdict        `json:"decision"`
	Reason      string         `json:"reason"`
	RiskScore   float64        `json:"risk_score"`
	ReasonCodes []string       `json:"reason_codes"`
	Approved    *bool          `json:"approved"`
	ApprovedBy  string         `json:"approved_by,omitempty"`
	ToolOK      *bool          `json:"tool_ok"`
	ToolResult  any            `json:"tool_result"`
	ToolError   string         `json:"tool_error,omitempty"`
	ToolMeta    map[string]any `json:"tool_meta,omitempty"`
	MonitorMeta map[string]any `json:"monitor_meta,omitempty"`
}

// ClassifiedSource records where classified data entered the session.
type ClassifiedSource struct {
	Tool           string   `json:"tool"`
	Tables         []string `json:"tables"`
	Columns        []string `json:"columns"`
	ClassifiedKeys []string `json:"classified_keys"`
	Step           int      `json:"step"`
}

// SessionState is the per-session mutable state. The orchestrator owns it
// exclusively; ClassifiedAccessed is monotone and Terminated is sticky.
type SessionState struct {
	RiskBudget         float64            `json:"risk_budget"`
	ClassifiedAccessed bool               `json:"classified_accessed"`
	ClassifiedSources  []ClassifiedSource `json:"classified_sources"`
	Terminated         bool               `json:"terminated"`
	TerminationReason  string             `json:"termination_reason,omitempty"`
}

// NewSessionState seeds session state from policy defaults.
func NewSessionState(cfg PolicyConfig) *SessionState {
	return &SessionState{RiskBudget: cfg.RiskBudget}
}
