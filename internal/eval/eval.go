// Package eval loads newline-delimited JSON episode datasets, validates
// them, and replays each episode through the orchestrator with simulated
// tools, comparing final verdicts against expectations per policy mode.
package eval

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ShirePyDev/runtime-agent-guard/internal/classify"
	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
	"github.com/ShirePyDev/runtime-agent-guard/internal/monitor"
	"github.com/ShirePyDev/runtime-agent-guard/internal/orchestrator"
	"github.com/ShirePyDev/runtime-agent-guard/internal/tools"
)

// Expected holds the expected final verdict per evaluation scenario.
// Empty entries are skipped.
type Expected struct {
	Balanced    string `json:"balanced,omitempty"`
	Strict      string `json:"strict,omitempty"`
	AutoConfirm string `json:"auto_confirm,omitempty"`
	StrictAuto  string `json:"strict_auto,omitempty"`
}

// Episode is one line of the dataset.
type Episode struct {
	ID       string         `json:"id"`
	Goal     string         `json:"goal"`
	Label    string         `json:"label"`
	Actions  []guard.Action `json:"actions"`
	Expected Expected       `json:"expected"`
}

// LoadEpisodes reads an NDJSON stream. Blank lines are skipped; a malformed
// line is an error carrying its line number.
func LoadEpisodes(r io.Reader) ([]Episode, error) {
	var out []Episode
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ep Episode
		if err := json.Unmarshal([]byte(line), &ep); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, ep)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	return out, nil
}

var validVerdicts = map[string]bool{
	string(guard.VerdictAllow): true,
	string(guard.VerdictAsk):   true,
	string(guard.VerdictBlock): true,
}

// Validate checks the dataset shape. All problems are reported at once.
func Validate(episodes []Episode) error {
	var problems []string
	seen := map[string]bool{}
	for i, ep := range episodes {
		at := fmt.Sprintf("episode %d (%s)", i+1, ep.ID)
		if ep.ID == "" {
			problems = append(problems, at+": missing id")
		} else if seen[ep.ID] {
			problems = append(problems, at+": duplicate id")
		}
		seen[ep.ID] = true
		if ep.Goal == "" {
			problems = append(problems, at+": missing goal")
		}
		if len(ep.Actions) == 0 {
			problems = append(problems, at+": no actions")
		}
		for j, a := range ep.Actions {
			if a.Tool == "" {
				problems = append(problems, fmt.Sprintf("%s: action %d has no tool", at, j+1))
			}
		}
		for _, exp := range []struct {
			name  string
			value string
		}{
			{"balanced", ep.Expected.Balanced},
			{"strict", ep.Expected.Strict},
			{"auto_confirm", ep.Expected.AutoConfirm},
			{"strict_auto", ep.Expected.StrictAuto},
		} {
			if exp.value != "" && !validVerdicts[exp.value] {
				problems = append(problems, fmt.Sprintf("%s: invalid expected.%s %q", at, exp.name, exp.value))
			}
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "\n"))
	}
	return nil
}

// scenario pairs a policy mode with an ASK resolution strategy.
type scenario struct {
	name        string
	mode        guard.PolicyMode
	autoConfirm bool
	expected    func(Expected) string
}

var scenarios = []scenario{
	{"balanced", guard.ModeBalanced, false, func(e Expected) string { return e.Balanced }},
	{"strict", guard.ModeStrict, false, func(e Expected) string { return e.Strict }},
	{"auto_confirm", guard.ModeBalanced, true, func(e Expected) string { return e.AutoConfirm }},
	{"strict_auto", guard.ModeStrict, true, func(e Expected) string { return e.StrictAuto }},
}

// EpisodeResult records one episode's outcomes across scenarios.
type EpisodeResult struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Got   map[string]string `json:"got"`
	Want  map[string]string `json:"want"`
	Pass  bool              `json:"pass"`
}

// Report aggregates a dataset run.
type Report struct {
	Total    int             `json:"total"`
	Passed   int             `json:"passed"`
	Accuracy float64         `json:"accuracy"`
	Results  []EpisodeResult `json:"results"`
}

// Runner replays episodes with simulated tools.
type Runner struct {
	Classifier *classify.Classifier
	BaseConfig guard.PolicyConfig
}

// Run evaluates every episode under every scenario with a non-empty
// expectation.
func (r *Runner) Run(ctx context.Context, episodes []Episode) (*Report, error) {
	report := &Report{Total: len(episodes)}

	for _, ep := range episodes {
		res := EpisodeResult{
			ID:    ep.ID,
			Label: ep.Label,
			Got:   map[string]string{},
			Want:  map[string]string{},
			Pass:  true,
		}
		for _, sc := range scenarios {
			want := sc.expected(ep.Expected)
			if want == "" {
				continue
			}
			got, err := r.runScenario(ctx, ep, sc)
			if err != nil {
				return nil, fmt.Errorf("episode %s scenario %s: %w", ep.ID, sc.name, err)
			}
			res.Got[sc.name] = got
			res.Want[sc.name] = want
			if got != want {
				res.Pass = false
			}
		}
		if res.Pass {
			report.Passed++
		} else {
			log.Debug().Str("id", ep.ID).Interface("got", res.Got).Interface("want", res.Want).Msg("episode mismatch")
		}
		report.Results = append(report.Results, res)
	}

	if report.Total > 0 {
		report.Accuracy = float64(report.Passed) / float64(report.Total)
	}
	return report, nil
}

func (r *Runner) runScenario(ctx context.Context, ep Episode, sc scenario) (string, error) {
	cfg := r.BaseConfig
	cfg.Mode = sc.mode
	defaults := guard.DefaultPolicyConfig(sc.mode)
	cfg.RiskBudget = defaults.RiskBudget

	m := monitor.New(r.Classifier, cfg)
	orc := orchestrator.New(m, tools.NewSimulatedRegistry())

	result, runErr := orc.Run(ctx, ep.Goal, ep.Actions, orchestrator.Options{AutoConfirm: sc.autoConfirm})
	var blocked *orchestrator.PolicyBlockedError
	if runErr != nil && !errors.As(runErr, &blocked) {
		return "", runErr
	}
	return finalVerdict(result.Steps), nil
}

// finalVerdict reads the monitor's verdict off the last recorded step. An
// auto-confirmed ASK is counted as ASK: the rewrite to ALLOW reflects the
// resolution strategy, not the monitor's opinion.
func finalVerdict(steps []guard.StepRecord) string {
	if len(steps) == 0 {
		return string(guard.VerdictAllow)
	}
	last := steps[len(steps)-1]
	if last.ApprovedBy == guard.ApprovedByAutoConfirm || last.ApprovedBy == guard.ApprovedByNonInteractive {
		return string(guard.VerdictAsk)
	}
	if last.ApprovedBy == guard.ApprovedByHuman {
		return string(guard.VerdictAsk)
	}
	return string(last.Decision)
}
