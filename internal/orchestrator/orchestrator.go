// Package orchestrator executes proposed action sequences under monitor
// enforcement: ALLOW executes the tool, ASK suspends for human approval,
// BLOCK terminates the session. Session state is owned here exclusively;
// the classified-access flag flips only after a successful execution so a
// blocked or denied classified read cannot poison the session.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/monitor"
	"github.com/ShirePyDev/runtime-agent-guard/internal/redact"
	"github.com/ShirePyDev/runtime-agent-guard/internal/runlog"
	"github.com/ShirePyDev/runtime-agent-guard/internal/tools"
)

// ApprovalRequest is what a human sees when an ASK suspends execution.
type ApprovalRequest struct {
	Goal        string         `json:"goal"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	RiskScore   float64        `json:"risk_score"`
	Reason      string         `json:"reason"`
	ReasonCodes []string       `json:"reason_codes"`
}

// Approver is the human-approval collaborator. A timeout or error maps to
// denial.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// PolicyBlockedError terminates a session: either a BLOCK verdict fired or
// a human denied an ASK.
type PolicyBlockedError struct {
	Step   int
	Tool   string
	Reason string
	Codes  []string
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("step %d (%s) blocked: %s", e.Step, e.Tool, e.Reason)
}

// Options control how ASK verdicts are resolved.
type Options struct {
	// Interactive routes ASK to the approver. When false the session
	// stops safely on the first ASK.
	Interactive bool
	// AutoConfirm rewrites ASK to ALLOW without consulting the approver.
	// Debugging aid; never the default.
	AutoConfirm bool
}

// RunResult is the outcome of a session run. Steps are complete even when
// the run terminated early.
type RunResult struct {
	Goal    string              `json:"goal"`
	Session *guard.SessionState `json:"session"`
	Steps   []guard.StepRecord  `json:"steps"`
	LogPath string              `json:"log_path,omitempty"`
}

// Orchestrator drives one session at a time; separate sessions use
// separate instances and do not synchronize.
type Orchestrator struct {
	monitor     *monitor.Monitor
	registry    *tools.Registry
	approver    Approver
	logWriter   *runlog.Writer
	stepTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithApprover installs the human-approval collaborator.
func WithApprover(a Approver) Option {
	return func(o *Orchestrator) { o.approver = a }
}

// WithRunLog enables trace persistence into dir.
func WithRunLog(dir string) Option {
	return func(o *Orchestrator) { o.logWriter = &runlog.Writer{Dir: dir} }
}

// WithStepTimeout bounds each tool execution.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stepTimeout = d }
}

// New builds an Orchestrator.
func New(m *monitor.Monitor, registry *tools.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		monitor:     m,
		registry:    registry,
		stepTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the proposed actions in order and returns the full history.
// The returned error is a *PolicyBlockedError when the session terminated
// on a BLOCK or denial; a terminated session refuses all further actions.
func (o *Orchestrator) Run(ctx context.Context, goal string, actions []guard.Action, opts Options) (*RunResult, error) {
	cfg := o.monitor.Config()
	session := guard.NewSessionState(cfg)
	result := &RunResult{Goal: goal, Session: session}

	var runErr error
	for i, action := range actions {
		if session.Terminated {
			break
		}
		if err := o.step(ctx, goal, i+1, action, session, result, opts); err != nil {
			runErr = err
			break
		}
	}

	if o.logWriter != nil {
		path, err := o.logWriter.Save(goal, cfg.Mode, session, result.Steps)
		if err != nil {
			log.Error().Err(err).Msg("failed to persist run log")
		} else {
			result.LogPath = path
		}
	}
	return result, runErr
}

func (o *Orchestrator) step(ctx context.Context, goal string, stepIndex int, action guard.Action, session *guard.SessionState, result *RunResult, opts Options) error {
	record := guard.StepRecord{
		Step: stepIndex,
		Goal: goal,
		Tool: action.Tool,
		Args: action.Args,
	}

	// Tool names must be non-empty before any evaluation. Unregistered
	// names still go through the monitor so they surface as UNKNOWN_TOOL
	// asks rather than hard failures.
	if action.Tool == "" {
		record.Decision = guard.VerdictBlock
		record.Reason = "Proposed action has no tool name."
		record.RiskScore = 0.9
		record.ReasonCodes = []string{guard.CodeUnknownTool}
		o.terminate(session, record.Reason)
		result.Steps = append(result.Steps, record)
		return &PolicyBlockedError{Step: stepIndex, Tool: action.Tool, Reason: record.Reason, Codes: record.ReasonCodes}
	}

	d := o.monitor.Evaluate(ctx, goal, action.Tool, action.Args, result.Steps, session)
	record.Decision = d.Verdict
	record.Reason = d.Reason
	record.RiskScore = d.RiskScore
	record.ReasonCodes = append([]string{}, d.ReasonCodes...)
	record.MonitorMeta = d.Metadata

	switch d.Verdict {
	case guard.VerdictBlock:
		o.terminate(session, d.Reason)
		result.Steps = append(result.Steps, record)
		return &PolicyBlockedError{Step: stepIndex, Tool: action.Tool, Reason: d.Reason, Codes: record.ReasonCodes}

	case guard.VerdictAsk:
		resolved, err := o.resolveAsk(ctx, goal, action, &record, session, opts)
		if err != nil {
			result.Steps = append(result.Steps, record)
			return err
		}
		if !resolved {
			result.Steps = append(result.Steps, record)
			return nil
		}
	}

	o.execute(ctx, action, &record, session, stepIndex)
	result.Steps = append(result.Steps, record)
	return nil
}

// resolveAsk applies the ASK state machine. It returns true when the action
// was approved and should execute, false when the session stopped safely.
func (o *Orchestrator) resolveAsk(ctx context.Context, goal string, action guard.Action, record *guard.StepRecord, session *guard.SessionState, opts Options) (bool, error) {
	if opts.AutoConfirm {
		approved := true
		record.Approved = &approved
		record.ApprovedBy = guard.ApprovedByAutoConfirm
		record.Decision = guard.VerdictAllow
		return true, nil
	}

	if !opts.Interactive || o.approver == nil {
		approved := false
		record.Approved = &approved
		record.ApprovedBy = guard.ApprovedByNonInteractive
		o.terminate(session, "stopped on ASK in non-interactive mode")
		return false, nil
	}

	ok, err := o.approver.Approve(ctx, ApprovalRequest{
		Goal:        goal,
		Tool:        action.Tool,
		Args:        action.Args,
		RiskScore:   record.RiskScore,
		Reason:      record.Reason,
		ReasonCodes: record.ReasonCodes,
	})
	if err != nil {
		log.Warn().Err(err).Str("tool", action.Tool).Msg("approval failed; treating as denial")
		ok = false
	}

	approved := ok
	record.Approved = &approved
	record.ApprovedBy = guard.ApprovedByHuman
	if !ok {
		record.Decision = guard.VerdictBlock
		record.ReasonCodes = append(record.ReasonCodes, guard.CodeHumanDenied)
		record.Reason = record.Reason + " (denied by human)"
		o.terminate(session, "human denied approval")
		return false, &PolicyBlockedError{Step: record.Step, Tool: action.Tool, Reason: record.Reason, Codes: record.ReasonCodes}
	}
	record.Decision = guard.VerdictAllow
	record.Reason = record.Reason + " (approved by human)"
	return true, nil
}

func (o *Orchestrator) execute(ctx context.Context, action guard.Action, record *guard.StepRecord, session *guard.SessionState, stepIndex int) {
	tool, ok := o.registry.Get(action.Tool)
	if !ok {
		failed := false
		record.ToolOK = &failed
		record.ToolError = fmt.Sprintf("unknown tool: %s", action.Tool)
		return
	}

	execCtx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	res := tool.Invoke(execCtx, sanitizeArgs(action.Args))

	succeeded := res.OK
	record.ToolOK = &succeeded
	record.ToolError = res.Error
	record.ToolMeta = res.Meta

	profile := redact.Escalate(redact.ProfileForMode(o.monitor.Config().Mode), record.ReasonCodes)
	redacted, stats := redact.Apply(res.Result, profile)
	record.ToolResult = redacted
	if record.MonitorMeta != nil {
		record.MonitorMeta["redaction"] = map[string]any{
			"profile": string(profile),
			"stats":   stats,
		}
	}

	// Classified access flags flip only after a successful execution.
	if succeeded && action.Tool == "run_sql" && classifiedHit(record.MonitorMeta) {
		session.ClassifiedAccessed = true
		session.ClassifiedSources = append(session.ClassifiedSources, classifiedSource(record, stepIndex))
		log.Info().Int("step", stepIndex).Msg("classified data accessed; session flagged")
	}
}

// sanitizeArgs removes monitor-only fields before the tool sees the
// arguments.
func sanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == "tainted" || k == "taint_sources" {
			continue
		}
		out[k] = v
	}
	return out
}

func classifiedHit(meta map[string]any) bool {
	if meta == nil {
		return false
	}
	hit, _ := meta["classified_hit"].(bool)
	return hit
}

func classifiedSource(record *guard.StepRecord, stepIndex int) guard.ClassifiedSource {
	src := guard.ClassifiedSource{Tool: record.Tool, Step: stepIndex}
	if sig, ok := record.MonitorMeta["signals"].(map[string]any); ok {
		if tables, ok := sig["tables"].([]string); ok {
			src.Tables = tables
		}
		if cols, ok := sig["columns"].([]string); ok {
			src.Columns = cols
		}
	}
	if keys, ok := record.MonitorMeta["classified_keys"].([]string); ok {
		src.ClassifiedKeys = keys
	}
	return src
}

func (o *Orchestrator) terminate(session *guard.SessionState, reason string) {
	session.Terminated = true
	if session.TerminationReason == "" {
		session.TerminationReason = reason
	}
}
