// Package monitor is the facade in front of the policy engine. It owns the
// per-tool handlers, assembles signals from arguments and history, and
// applies the session-wide augmentations (repetition escalation, audit
// metadata, risk budget, high-risk hard block) in a fixed order.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ShirePyDev/runtime-agent-guard/internal/classify"
	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/policy"
	"github.com/ShirePyDev/runtime-agent-guard/internal/signals"
	"github.com/ShirePyDev/runtime-agent-guard/internal/sqlscan"
)

// AccessGate is an optional policy-as-code pre-gate (OPA-backed in
// production) consulted before the per-tool handlers.
type AccessGate interface {
	Check(ctx context.Context, tool, operation, goal string) (allowed bool, reasons []string, err error)
}

// DecisionRecorder receives telemetry for every evaluation.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, tool string, verdict guard.Verdict, risk float64, elapsed time.Duration)
}

// Monitor evaluates proposed tool calls. It is stateless apart from the
// immutable policy config and the shared classifier, so a single Monitor
// serves concurrent sessions.
type Monitor struct {
	classifier *classify.Classifier
	cfg        guard.PolicyConfig
	gate       AccessGate
	recorder   DecisionRecorder
}

// Option configures optional Monitor collaborators.
type Option func(*Monitor)

// WithAccessGate installs a tool-access pre-gate.
func WithAccessGate(g AccessGate) Option {
	return func(m *Monitor) { m.gate = g }
}

// WithRecorder installs a telemetry recorder.
func WithRecorder(r DecisionRecorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// New builds a Monitor.
func New(classifier *classify.Classifier, cfg guard.PolicyConfig, opts ...Option) *Monitor {
	m := &Monitor{classifier: classifier, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the monitor's policy configuration.
func (m *Monitor) Config() guard.PolicyConfig { return m.cfg }

var knownTools = map[string]bool{
	"read_file":        true,
	"run_sql":          true,
	"send_email":       true,
	"search_docs":      true,
	"search_wikipedia": true,
}

// Evaluate is the main decision function, called before a tool executes.
// It never returns an error: every condition resolves to a Decision.
func (m *Monitor) Evaluate(ctx context.Context, goal, tool string, args map[string]any, history []guard.StepRecord, session *guard.SessionState) guard.Decision {
	start := time.Now()

	d := m.baseDecision(ctx, goal, tool, args, history, session)

	// Augmentations run in a fixed order; each may only tighten the
	// verdict.
	m.applyRepetition(&d, tool, history)
	m.applyAudit(&d, tool, goal, args)
	m.applyBudget(&d, session)
	m.applyHardBlock(&d)

	elapsed := time.Since(start)
	if m.recorder != nil {
		m.recorder.RecordDecision(ctx, tool, d.Verdict, d.RiskScore, elapsed)
	}
	log.Debug().
		Str("tool", tool).
		Str("decision", string(d.Verdict)).
		Float64("risk", d.RiskScore).
		Strs("codes", d.ReasonCodes).
		Dur("elapsed", elapsed).
		Msg("monitor decision")
	return d
}

func (m *Monitor) baseDecision(ctx context.Context, goal, tool string, args map[string]any, history []guard.StepRecord, session *guard.SessionState) guard.Decision {
	if m.gate != nil {
		if d, gated := m.checkGate(ctx, goal, tool); gated {
			return d
		}
	}

	switch tool {
	case "run_sql":
		return m.evaluateSQL(goal, args, history)
	case "send_email":
		return m.evaluateEmail(goal, args, history, session)
	case "read_file":
		return policy.EvaluateFile(stringArg(args, "path"), m.cfg)
	case "search_wikipedia":
		return policy.EvaluateWiki(stringArg(args, "query"))
	}
	if knownTools[tool] {
		drift := 1 - intentSimilarity(goal, tool, args)
		return policy.EvaluateDefault(drift, m.cfg)
	}
	return policy.EvaluateUnknown(tool)
}

// checkGate consults the optional OPA pre-gate. A deny is a hard BLOCK;
// an evaluation failure degrades to ASK rather than silently allowing.
func (m *Monitor) checkGate(ctx context.Context, goal, tool string) (guard.Decision, bool) {
	op := string(signals.OperationFor(tool))
	allowed, reasons, err := m.gate.Check(ctx, tool, op, goal)
	if err != nil {
		log.Warn().Err(err).Str("tool", tool).Msg("tool access gate evaluation failed")
		return guard.Decision{
			Verdict:     guard.VerdictAsk,
			Reason:      "Tool access policy could not be evaluated; confirm this action.",
			RiskScore:   0.6,
			ReasonCodes: []string{guard.CodeToolAccessDenied},
			Metadata:    map[string]any{"provenance": guard.Provenance{Source: "internal", Tainted: false}},
		}, true
	}
	if allowed {
		return guard.Decision{}, false
	}
	reason := "Tool access denied by policy."
	if len(reasons) > 0 {
		reason = reasons[0]
	}
	return guard.Decision{
		Verdict:     guard.VerdictBlock,
		Reason:      reason,
		RiskScore:   0.9,
		ReasonCodes: []string{guard.CodeToolAccessDenied},
		Metadata:    map[string]any{"provenance": guard.Provenance{Source: "internal", Tainted: false}},
	}, true
}

func (m *Monitor) evaluateSQL(goal string, args map[string]any, history []guard.StepRecord) guard.Decision {
	query := stringArg(args, "query")
	if query == "" {
		return policy.MissingSQLQuery()
	}

	ent := sqlscan.Extract(query)
	hits := m.classifyEntities(ent)

	sig := &signals.Signals{
		Tool:            "run_sql",
		Operation:       signals.OpQuery,
		Goal:            goal,
		Tables:          ent.Tables,
		Columns:         ent.Columns,
		SensitivityHits: hits,
		BulkIndicator:   ent.Bulk,
		MissingLimit:    ent.MissingLimit,
		TaintedInput:    argTaint(args) || inferTaintFromHistory(history, m.cfg.TaintHistoryWindow),
	}
	sig.Finalize()

	return policy.EvaluateSQL(sig, ent, m.cfg)
}

func (m *Monitor) classifyEntities(ent sqlscan.Entities) []classify.Hit {
	var hits []classify.Hit
	for _, t := range ent.Tables {
		if h := m.classifier.ClassifyTable(t); h != nil {
			hits = append(hits, *h)
		}
	}
	for _, c := range ent.Columns {
		if c.Name == "*" {
			continue
		}
		h := m.classifier.ClassifyColumn(c.Table, c.Name)
		if h == nil {
			h = m.classifier.ClassifyColumnName(c.Name)
		}
		if h != nil {
			hits = append(hits, *h)
		}
	}
	return hits
}

func (m *Monitor) evaluateEmail(goal string, args map[string]any, history []guard.StepRecord, session *guard.SessionState) guard.Decision {
	subject := stringArg(args, "subject")
	body := stringArg(args, "body")
	markers := taintMarkers(history, m.cfg.TaintHistoryWindow)

	in := policy.EmailInput{
		Goal:          goal,
		To:            stringArg(args, "to"),
		Subject:       subject,
		Body:          body,
		TaintedInput:  argTaint(args),
		InferredTaint: inferTaintFromHistory(history, m.cfg.TaintHistoryWindow),
		UsesTaint:     usesTaint(subject, body, markers),
	}
	return policy.EvaluateEmail(in, session, m.cfg)
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

// argTaint reads the monitor-only taint flag that upstream components may
// attach to arguments. The orchestrator strips it before tool execution.
func argTaint(args map[string]any) bool {
	if args == nil {
		return false
	}
	t, _ := args["tainted"].(bool)
	return t
}
