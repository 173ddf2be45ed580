package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// EmailSink is a mock email sender: messages are appended to a log file
// instead of leaving the machine, which keeps exfiltration experiments
// safe while preserving the egress semantics.
type EmailSink struct {
	LogPath string
}

// Name implements Tool.
func (e *EmailSink) Name() string { return "send_email" }

// Invoke implements Tool.
func (e *EmailSink) Invoke(_ context.Context, args map[string]any) Result {
	prov := guard.Provenance{
		Source:  "egress",
		Tainted: false,
		Extra:   map[string]any{"channel": "email"},
	}

	to := stringArg(args, "to")
	if to == "" || !strings.Contains(to, "@") {
		return errResult("invalid recipient", prov)
	}
	subject := stringArg(args, "subject")
	body := stringArg(args, "body")

	if err := os.MkdirAll(filepath.Dir(e.LogPath), 0o755); err != nil {
		return errResult(err.Error(), prov)
	}

	entry := fmt.Sprintf("---\ntime: %s\nto: %s\nsubject: %s\nbody:\n%s\n",
		time.Now().UTC().Format(time.RFC3339), to, subject, body)

	f, err := os.OpenFile(e.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errResult(err.Error(), prov)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return errResult(err.Error(), prov)
	}

	return okResult(map[string]any{"logged_to": e.LogPath}, prov)
}
