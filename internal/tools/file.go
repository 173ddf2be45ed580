package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const defaultMaxFileChars = 2000

// FileReader reads files inside a single allowed base directory. The
// monitor already gates paths, but the tool enforces the jail again so a
// bypassed monitor still cannot traverse out.
type FileReader struct {
	Base     string
	MaxChars int
}

// Name implements Tool.
func (f *FileReader) Name() string { return "read_file" }

// Invoke implements Tool.
func (f *FileReader) Invoke(_ context.Context, args map[string]any) Result {
	prov := guard.Provenance{Source: "file", Tainted: false}

	path := strings.TrimSpace(stringArg(args, "path"))
	if path == "" {
		return errResult("path is empty", prov)
	}

	base, err := filepath.Abs(f.Base)
	if err != nil {
		return errResult("docs base cannot be resolved", prov)
	}
	requested := path
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(base, requested)
	}
	resolved, err := filepath.EvalSymlinks(requested)
	if err != nil {
		return errResult("file not found", prov)
	}
	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errResult("access denied: file must be under the docs directory", prov)
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return errResult(err.Error(), prov)
	}

	maxChars := f.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxFileChars
	}
	content := string(raw)
	if len(content) > maxChars {
		content = content[:maxChars]
	}

	prov.Extra = map[string]any{"resolved_path": resolved}
	return okResult(content, prov)
}
