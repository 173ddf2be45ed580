// Package redact sanitizes arbitrary values before they are logged or
// re-enter session history. It is a pure structural map: inputs are never
// mutated, new values are returned, and container types are preserved.
package redact

import (
	"regexp"
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// Profile selects how aggressive redaction is.
type Profile string

const (
	// ProfilePermissive redacts only high-confidence secret patterns in
	// strings.
	ProfilePermissive Profile = "permissive"
	// ProfileBalanced additionally replaces values under secret-looking
	// map keys.
	ProfileBalanced Profile = "balanced"
	// ProfileStrict additionally redacts emails and PII patterns and
	// values under PII-looking map keys.
	ProfileStrict Profile = "strict"
)

// Stats counts redaction hits per kind for audit metadata.
type Stats struct {
	PatternHits int `json:"pattern_hits"`
	KVHits      int `json:"kv_hits"`
	EmailHits   int `json:"email_hits"`
	PIIKeyHits  int `json:"pii_key_hits"`
}

const (
	placeholder    = "[REDACTED]"
	placeholderPII = "[REDACTED_PII]"
)

var (
	awsAccessKeyRe = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	awsSecretRe    = regexp.MustCompile(`(?i)\baws[_-]?(?:secret[_-]?)?(?:access[_-]?)?key[_-]?(?:id)?\b\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}["']?`)
	githubPATRe    = regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}\b|\bgithub_pat_[A-Za-z0-9_]{22,}\b`)
	kvSecretRe     = regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password|passwd|pwd|access[_-]?token|refresh[_-]?token|private[_-]?key|ssh[_-]?key)\b\s*[:=]\s*\S+`)
	emailRe        = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ssnRe          = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phoneRe        = regexp.MustCompile(`\b\+?\d{1,2}[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
)

var secretKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"token":         true,
	"secret":        true,
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"ssh_key":       true,
}

var piiKeys = map[string]bool{
	"email":   true,
	"phone":   true,
	"ssn":     true,
	"address": true,
	"dob":     true,
}

// Escalate returns the profile to use for the current step. Classified
// access escalates to strict regardless of the session profile.
func Escalate(base Profile, reasonCodes []string) Profile {
	for _, code := range reasonCodes {
		if strings.HasPrefix(code, "SQL_CLASSIFIED") ||
			code == guard.CodeSQLCriticalClassified ||
			strings.HasPrefix(code, "EGRESS_AFTER_CLASSIFIED") {
			return ProfileStrict
		}
	}
	return base
}

// ProfileForMode maps a policy mode to its session redaction profile.
func ProfileForMode(mode guard.PolicyMode) Profile {
	if mode == guard.ModeStrict {
		return ProfileStrict
	}
	return ProfileBalanced
}

// Apply walks v and returns a redacted copy plus hit statistics. Strings
// get pattern-based redaction, mappings get key-name-based redaction, and
// sequences recurse element-wise.
func Apply(v any, profile Profile) (any, Stats) {
	var stats Stats
	out := walk(v, profile, &stats)
	return out, stats
}

func walk(v any, profile Profile, stats *Stats) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return redactString(val, profile, stats)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = redactEntry(k, inner, profile, stats)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, inner := range val {
			red := redactEntry(k, inner, profile, stats)
			if s, ok := red.(string); ok {
				out[k] = s
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = walk(inner, profile, stats)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, inner := range val {
			out[i] = redactString(inner, profile, stats)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, inner := range val {
			out[i] = walk(inner, profile, stats).(map[string]any)
		}
		return out
	}
	return v
}

func redactEntry(key string, v any, profile Profile, stats *Stats) any {
	lower := strings.ToLower(key)
	if profile != ProfilePermissive && secretKeys[lower] {
		stats.KVHits++
		return placeholder
	}
	if profile == ProfileStrict && piiKeys[lower] {
		stats.PIIKeyHits++
		return placeholderPII
	}
	return walk(v, profile, stats)
}

func redactString(s string, profile Profile, stats *Stats) string {
	for _, re := range []*regexp.Regexp{awsAccessKeyRe, awsSecretRe, githubPATRe} {
		if n := len(re.FindAllStringIndex(s, -1)); n > 0 {
			stats.PatternHits += n
			s = re.ReplaceAllString(s, placeholder)
		}
	}
	if n := len(kvSecretRe.FindAllStringIndex(s, -1)); n > 0 {
		stats.PatternHits += n
		s = kvSecretRe.ReplaceAllString(s, "$1: "+placeholder)
	}
	if profile == ProfileStrict {
		if n := len(emailRe.FindAllStringIndex(s, -1)); n > 0 {
			stats.EmailHits += n
			s = emailRe.ReplaceAllString(s, placeholder)
		}
		for _, re := range []*regexp.Regexp{ssnRe, phoneRe} {
			if n := len(re.FindAllStringIndex(s, -1)); n > 0 {
				stats.PatternHits += n
				s = re.ReplaceAllString(s, placeholderPII)
			}
		}
	}
	return s
}
