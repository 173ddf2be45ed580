package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const (
	fileMissingPathRisk = 0.40
	fileOutsideRisk     = 0.95
	fileAllowedRisk     = 0.10
)

// EvaluateFile decides a read_file call. The requested path is canonicalized
// (absolute, ".." expanded, symlinks resolved) before the containment check
// against the allowed docs base, so traversal and symlink escapes both
// resolve to their real target.
func EvaluateFile(path string, cfg guard.PolicyConfig) guard.Decision {
	if strings.TrimSpace(path) == "" {
		return decision(guard.VerdictAsk,
			"No file path was provided.",
			fileMissingPathRisk,
			guard.CodeFileMissingPath)
	}

	base, err := canonicalize(cfg.AllowedDocsBase)
	if err != nil {
		return blockInvalidPath("allowed docs base cannot be resolved")
	}

	resolved, err := canonicalize(resolveAgainst(base, path))
	if err != nil {
		return blockInvalidPath("file path cannot be resolved")
	}

	if !within(base, resolved) {
		d := decision(guard.VerdictBlock,
			"File access outside the allowed docs directory.",
			fileOutsideRisk,
			guard.CodeFileOutsideAllowedDir)
		d.Metadata["provenance"] = guard.Provenance{
			Source:  "file",
			Tainted: false,
			Extra:   map[string]any{"resolved_path": resolved},
		}
		return d
	}

	d := decision(guard.VerdictAllow,
		"Reading from the allowed docs directory.",
		fileAllowedRisk,
		guard.CodeFileAllowed)
	d.Metadata["provenance"] = guard.Provenance{
		Source:  "file",
		Tainted: false,
		Extra:   map[string]any{"resolved_path": resolved},
	}
	return d
}

func blockInvalidPath(reason string) guard.Decision {
	d := decision(guard.VerdictBlock, "Path resolution failed: "+reason+".", fileOutsideRisk, guard.CodeInvalidPath)
	d.Metadata["provenance"] = guard.Provenance{Source: "file", Tainted: false}
	return d
}

func resolveAgainst(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// canonicalize makes the path absolute, expands "..", and resolves
// symlinks. Components that do not exist yet are resolved against the
// deepest existing ancestor, so a traversal toward a missing target still
// gets a containment verdict instead of a resolution error.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	prefix := abs
	var suffix []string
	for {
		resolved, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			parts := append([]string{resolved}, suffix...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(prefix)
		if parent == prefix {
			return "", err
		}
		suffix = append([]string{filepath.Base(prefix)}, suffix...)
		prefix = parent
	}
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
