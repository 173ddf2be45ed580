package monitor

import (
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// Minimum marker length; shorter strings match too much innocent text.
const minTaintMarkerLen = 4

func taintWindow(history []guard.StepRecord, window int) []guard.StepRecord {
	if window <= 0 || len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

// stepTainted reports whether the step's attached provenance is tainted.
func stepTainted(step guard.StepRecord) bool {
	if step.ToolMeta == nil {
		return false
	}
	prov, ok := guard.ProvenanceFrom(step.ToolMeta["provenance"])
	return ok && prov.Tainted
}

// inferTaintFromHistory scans the trailing window of history for any step
// with tainted provenance. The window bound keeps evaluation O(window) and
// prevents taint from persisting forever in long sessions.
func inferTaintFromHistory(history []guard.StepRecord, window int) bool {
	for _, step := range taintWindow(history, window) {
		if stepTainted(step) {
			return true
		}
	}
	return false
}

// taintMarkers extracts textual markers from tainted steps in the window,
// currently the query argument of external lookups. Outbound content that
// references a marker is considered to use tainted data.
func taintMarkers(history []guard.StepRecord, window int) []string {
	var markers []string
	for _, step := range taintWindow(history, window) {
		if !stepTainted(step) {
			continue
		}
		if q, ok := step.Args["query"].(string); ok {
			q = strings.ToLower(strings.TrimSpace(q))
			if len(q) >= minTaintMarkerLen {
				markers = append(markers, q)
			}
		}
	}
	return markers
}

// usesTaint reports whether the outbound subject or body textually contains
// any known tainted marker.
func usesTaint(subject, body string, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	content := strings.ToLower(subject + "\n" + body)
	for _, m := range markers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}
