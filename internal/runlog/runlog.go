// Package runlog persists one tamper-evident JSON trace per session run.
// Steps carry a SHA-256 hash chain: each step hash covers the previous
// step's hash plus the step's canonical serialization, so any edit to a
// recorded step breaks every hash after it.
package runlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// SchemaVersion identifies the log format. The reason-code vocabulary is
// part of this schema; changing it requires a version bump.
const SchemaVersion = "runtime_agent_guard.v1"

// Writer persists run traces under Dir.
type Writer struct {
	Dir string
}

type chainedStep struct {
	guard.StepRecord
	PrevHash string `json:"prev_hash"`
	StepHash string `json:"step_hash"`
}

type summary struct {
	Steps     int     `json:"steps"`
	MaxRisk   float64 `json:"max_risk"`
	Blocked   bool    `json:"blocked"`
	Asks      int     `json:"asks"`
	Allows    int     `json:"allows"`
	Approvals int     `json:"approvals"`
}

type runDocument struct {
	Schema       string              `json:"schema"`
	RunID        string              `json:"run_id"`
	TimestampUTC string              `json:"timestamp_utc"`
	Goal         string              `json:"goal"`
	PolicyMode   guard.PolicyMode    `json:"policy_mode"`
	SessionState *guard.SessionState `json:"session_state"`
	Summary      summary             `json:"summary"`
	Steps        []chainedStep       `json:"steps"`
}

// Save writes the trace and returns the file path.
func (w *Writer) Save(goal string, mode guard.PolicyMode, session *guard.SessionState, steps []guard.StepRecord) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log dir: %w", err)
	}

	now := time.Now().UTC()
	runID := fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])

	doc := runDocument{
		Schema:       SchemaVersion,
		RunID:        runID,
		TimestampUTC: now.Format("2006-01-02T15:04:05Z"),
		Goal:         goal,
		PolicyMode:   mode,
		SessionState: session,
		Summary:      aggregate(steps),
		Steps:        chain(steps),
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing run log: %w", err)
	}

	path := filepath.Join(w.Dir, runID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing run log: %w", err)
	}

	log.Info().Str("path", path).Int("steps", len(steps)).Msg("run log saved")
	return path, nil
}

func aggregate(steps []guard.StepRecord) summary {
	var s summary
	s.Steps = len(steps)
	for _, step := range steps {
		if step.RiskScore > s.MaxRisk {
			s.MaxRisk = step.RiskScore
		}
		switch step.Decision {
		case guard.VerdictBlock:
			s.Blocked = true
		case guard.VerdictAsk:
			s.Asks++
		case guard.VerdictAllow:
			s.Allows++
		}
		if step.Approved != nil && *step.Approved {
			s.Approvals++
		}
	}
	s.MaxRisk = math.Round(s.MaxRisk*1000) / 1000
	return s
}

func chain(steps []guard.StepRecord) []chainedStep {
	out := make([]chainedStep, 0, len(steps))
	prev := ""
	for _, step := range steps {
		raw, err := json.Marshal(step)
		if err != nil {
			raw = []byte(fmt.Sprintf("step:%d", step.Step))
		}
		sum := sha256.Sum256(append([]byte(prev), raw...))
		hash := hex.EncodeToString(sum[:])
		out = append(out, chainedStep{StepRecord: step, PrevHash: prev, StepHash: hash})
		prev = hash
	}
	return out
}

// Verify recomputes the hash chain of a saved document and reports the
// first step whose hash no longer matches, or -1 when the chain is intact.
func Verify(doc []byte) (int, error) {
	var parsed runDocument
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return 0, fmt.Errorf("parsing run log: %w", err)
	}
	prev := ""
	for i, step := range parsed.Steps {
		raw, err := json.Marshal(step.StepRecord)
		if err != nil {
			return i, err
		}
		sum := sha256.Sum256(append([]byte(prev), raw...))
		if step.PrevHash != prev || step.StepHash != hex.EncodeToString(sum[:]) {
			return i, nil
		}
		prev = step.StepHash
	}
	return -1, nil
}
