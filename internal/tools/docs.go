package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const defaultMaxMatches = 5

// DocsSearcher runs a line-based search over the text files in the docs
// directory and returns small snippets.
type DocsSearcher struct {
	Base       string
	MaxMatches int
}

type docMatch struct {
	File string `json:"file"`
	Line string `json:"line"`
}

// Name implements Tool.
func (d *DocsSearcher) Name() string { return "search_docs" }

// Invoke implements Tool.
func (d *DocsSearcher) Invoke(_ context.Context, args map[string]any) Result {
	prov := guard.Provenance{Source: "internal", Tainted: false}

	query := strings.ToLower(strings.TrimSpace(stringArg(args, "query")))
	if query == "" {
		return errResult("query is empty", prov)
	}
	if _, err := os.Stat(d.Base); err != nil {
		return errResult("docs directory not found", prov)
	}

	maxMatches := d.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatches
	}

	matches := []docMatch{}

	_ = filepath.WalkDir(d.Base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || len(matches) >= maxMatches {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(d.Base, path)
		for i, line := range strings.Split(string(raw), "\n") {
			if strings.Contains(strings.ToLower(line), query) {
				matches = append(matches, docMatch{
					File: rel,
					Line: fmt.Sprintf("%d: %s", i+1, strings.TrimSpace(line)),
				})
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})

	return okResult(matches, prov)
}
