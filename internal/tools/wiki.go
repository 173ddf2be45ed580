package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const (
	defaultWikiBaseURL  = "https://en.wikipedia.org/api/rest_v1/page/summary/"
	defaultWikiMaxChars = 500
	wikiRequestTimeout  = 10 * time.Second
	maxWikiResponseSize = 1 << 20
)

// WikiSearcher looks up a page summary from the Wikipedia REST API. Its
// output is untrusted external text: provenance is always tainted.
type WikiSearcher struct {
	Client   *http.Client
	BaseURL  string
	MaxChars int
}

// Name implements Tool.
func (w *WikiSearcher) Name() string { return "search_wikipedia" }

// Invoke implements Tool.
func (w *WikiSearcher) Invoke(ctx context.Context, args map[string]any) Result {
	prov := guard.Provenance{Source: "web", Tainted: true}

	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return errResult("query is empty", prov)
	}

	base := w.BaseURL
	if base == "" {
		base = defaultWikiBaseURL
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: wikiRequestTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+url.PathEscape(query), nil)
	if err != nil {
		return errResult(err.Error(), prov)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errResult(err.Error(), prov)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errResult("page not found", prov)
	}
	if resp.StatusCode != http.StatusOK {
		return errResult(fmt.Sprintf("lookup failed: HTTP %d", resp.StatusCode), prov)
	}

	var page struct {
		Title   string `json:"title"`
		Extract string `json:"extract"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWikiResponseSize))
	if err != nil {
		return errResult(err.Error(), prov)
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return errResult("unexpected response shape", prov)
	}

	maxChars := w.MaxChars
	if maxChars <= 0 {
		maxChars = defaultWikiMaxChars
	}
	text := page.Extract
	if len(text) > maxChars {
		text = text[:maxChars] + "..."
	}

	return okResult(map[string]any{"title": page.Title, "text": text}, prov)
}
