package monitor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases the text and keeps alphanumeric tokens of length
// three or more.
func tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) >= 3 {
			out[tok] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// intentSimilarity compares the goal against a tool-specific string
// projection of the arguments. Drift is 1 minus this value.
func intentSimilarity(goal, tool string, args map[string]any) float64 {
	return jaccard(tokenize(goal), tokenize(projectArgs(tool, args)))
}

func projectArgs(tool string, args map[string]any) string {
	get := func(key string) string {
		if args == nil {
			return ""
		}
		return fmt.Sprintf("%v", args[key])
	}

	switch tool {
	case "read_file":
		return "path=" + truncate(get("path"), 150)
	case "run_sql":
		return "query=" + truncate(get("query"), 120)
	case "send_email":
		return "to=" + truncate(get("to"), 80) +
			" subject=" + truncate(get("subject"), 120) +
			" body=" + truncate(get("body"), 160)
	case "search_wikipedia":
		return "query=" + truncate(get("query"), 120)
	}

	// Generic projection: first 6 key=value pairs in key order, so the
	// result is deterministic across runs.
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 6 {
		keys = keys[:6]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+truncate(fmt.Sprintf("%v", args[k]), 120))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
