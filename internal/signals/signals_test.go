package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ShirePyDev/runtime-agent-guard/internal/classify"
)

func classifiedHit() classify.Hit {
	return classify.Hit{Kind: classify.KindTable, Key: "users", Sensitivity: classify.SensitivityHigh, Score: 0.8}
}

func lowHit() classify.Hit {
	return classify.Hit{Kind: classify.KindTable, Key: "sales", Sensitivity: classify.SensitivityLow, Score: 0.1}
}

func TestOperationFor(t *testing.T) {
	assert.Equal(t, OpQuery, OperationFor("run_sql"))
	assert.Equal(t, OpSend, OperationFor("send_email"))
	assert.Equal(t, OpRead, OperationFor("read_file"))
	assert.Equal(t, OpSearch, OperationFor("search_docs"))
	assert.Equal(t, OpSearch, OperationFor("search_wikipedia"))
	assert.Equal(t, OpUnknown, OperationFor("delete_universe"))
}

func TestFinalizeBenignQuery(t *testing.T) {
	s := &Signals{Tool: "run_sql", Operation: OpQuery, SensitivityHits: []classify.Hit{lowHit()}}
	s.Finalize()

	// Priors only: 0.20*0.25 + 0.15*0.15.
	assert.InDelta(t, 0.0725, s.BaseScore, 1e-9)
	assert.Empty(t, s.Reasons)
}

func TestFinalizeClassifiedQuery(t *testing.T) {
	s := &Signals{Tool: "run_sql", Operation: OpQuery, SensitivityHits: []classify.Hit{classifiedHit()}}
	s.Finalize()

	// 0.70 sensitivity + priors.
	assert.InDelta(t, 0.7725, s.BaseScore, 1e-9)
	assert.Equal(t, []string{"Sensitive data detected (classification hits)."}, s.Reasons)
}

func TestFinalizeClipsAtOne(t *testing.T) {
	s := &Signals{
		Tool:            "send_email",
		Operation:       OpSend,
		SensitivityHits: []classify.Hit{classifiedHit()},
		BulkIndicator:   true,
		MissingLimit:    true,
		TaintedInput:    true,
	}
	s.Finalize()
	assert.Equal(t, 1.0, s.BaseScore)
}

func TestFinalizeReasonOrder(t *testing.T) {
	s := &Signals{
		Tool:            "send_email",
		Operation:       OpSend,
		SensitivityHits: []classify.Hit{classifiedHit()},
		BulkIndicator:   true,
		MissingLimit:    true,
		TaintedInput:    true,
	}
	s.Finalize()

	assert.Equal(t, []string{
		"Sensitive data detected (classification hits).",
		"Bulk extraction indicator detected.",
		"Query missing LIMIT (potential bulk access).",
		"Tainted input / possible prompt injection.",
		"High-risk tool prior: send_email.",
		"High-risk operation: send.",
	}, s.Reasons)
}

func TestFinalizeDeterministic(t *testing.T) {
	build := func() *Signals {
		return &Signals{
			Tool:            "run_sql",
			Operation:       OpQuery,
			SensitivityHits: []classify.Hit{classifiedHit()},
			MissingLimit:    true,
		}
	}
	a, b := build(), build()
	a.Finalize()
	b.Finalize()
	assert.Equal(t, a.BaseScore, b.BaseScore)
	assert.Equal(t, a.Reasons, b.Reasons)
}

func TestFinalizeUnknownToolPrior(t *testing.T) {
	s := &Signals{Tool: "delete_universe", Operation: OpUnknown}
	s.Finalize()

	// Default tool prior 0.15 and unknown operation prior 0.10.
	assert.InDelta(t, 0.20*0.15+0.15*0.10, s.BaseScore, 1e-9)
}

func TestClassifiedHitsFilter(t *testing.T) {
	s := &Signals{SensitivityHits: []classify.Hit{lowHit(), classifiedHit()}}
	hits := s.ClassifiedHits()
	assert.Len(t, hits, 1)
	assert.Equal(t, "users", hits[0].Key)
}
