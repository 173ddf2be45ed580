package policy

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

func fileCfg(t *testing.T) (guard.PolicyConfig, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "data", "docs")
	require.NoError(t, os.MkdirAll(base, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "example.txt"), []byte("hello"), 0o644))

	cfg := guard.DefaultPolicyConfig(guard.ModeBalanced)
	cfg.AllowedDocsBase = base
	return cfg, base
}

func TestFileAllowInsideBase(t *testing.T) {
	cfg, base := fileCfg(t)

	d := EvaluateFile(filepath.Join(base, "example.txt"), cfg)
	assert.Equal(t, guard.VerdictAllow, d.Verdict)
	assert.Equal(t, []string{guard.CodeFileAllowed}, d.ReasonCodes)

	relative := EvaluateFile("example.txt", cfg)
	assert.Equal(t, guard.VerdictAllow, relative.Verdict)
}

func TestFileBlocksTraversal(t *testing.T) {
	cfg, base := fileCfg(t)

	d := EvaluateFile(filepath.Join(base, "..", "..", ".ssh", "id_rsa"), cfg)
	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Equal(t, []string{guard.CodeFileOutsideAllowedDir}, d.ReasonCodes)

	rel := EvaluateFile("../../.ssh/id_rsa", cfg)
	assert.Equal(t, guard.VerdictBlock, rel.Verdict)
	assert.Equal(t, []string{guard.CodeFileOutsideAllowedDir}, rel.ReasonCodes)
}

func TestFileBlocksSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	cfg, base := fileCfg(t)

	outside := filepath.Join(filepath.Dir(filepath.Dir(base)), "secrets.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	link := filepath.Join(base, "innocent.txt")
	require.NoError(t, os.Symlink(outside, link))

	d := EvaluateFile(link, cfg)
	assert.Equal(t, guard.VerdictBlock, d.Verdict)
	assert.Equal(t, []string{guard.CodeFileOutsideAllowedDir}, d.ReasonCodes)
}

func TestFileMissingPathAsks(t *testing.T) {
	cfg, _ := fileCfg(t)

	for _, path := range []string{"", "   "} {
		d := EvaluateFile(path, cfg)
		assert.Equal(t, guard.VerdictAsk, d.Verdict)
		assert.Equal(t, []string{guard.CodeFileMissingPath}, d.ReasonCodes)
	}
}

func TestFileMissingTargetStillContained(t *testing.T) {
	cfg, base := fileCfg(t)

	// A nonexistent file inside the base resolves and is allowed; the tool
	// reports the read error at execution time instead.
	d := EvaluateFile(filepath.Join(base, "missing.txt"), cfg)
	assert.Equal(t, guard.VerdictAllow, d.Verdict)
}
