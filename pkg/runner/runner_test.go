//go:build unix

package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/skills"
)

func fakeSkill(t *testing.T, name, script string) skills.Descriptor {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entry := filepath.Join(dir, "run")
	require.NoError(t, os.WriteFile(entry, []byte("#!/bin/sh\n"+script), 0o755))
	return skills.Descriptor{Name: name, Dir: dir, EntryPath: entry}
}

func TestRun_SuccessWithMarker(t *testing.T) {
	desc := fakeSkill(t, "alpha", `echo "checking $1"
echo "--- JSON Output ---"
echo '{"suggestions":[{"type":"x","message":"y"}]}'
`)

	result := New().Run(context.Background(), desc, "/tmp/target")

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, ReasonNone, result.Reason)
	assert.Contains(t, result.RawOutput, "checking /tmp/target")
	assert.Equal(t, map[string]any{
		"suggestions": []any{map[string]any{"type": "x", "message": "y"}},
	}, result.Payload)
}

func TestRun_ExitOneWithPayloadIsDomainSignal(t *testing.T) {
	desc := fakeSkill(t, "beta", `echo '{"vulnerabilities":[{"name":"CVE-x","severity":"high"}]}'
exit 1
`)

	result := New().Run(context.Background(), desc, "")

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
	require.True(t, result.HasPayload())
	assert.Len(t, result.Payload["vulnerabilities"], 1)
}

func TestRun_NonZeroWithoutPayload(t *testing.T) {
	desc := fakeSkill(t, "crash", `echo "npm: command not found" >&2
exit 127
`)

	result := New().Run(context.Background(), desc, "")

	assert.False(t, result.Success)
	assert.Equal(t, 127, result.ExitCode)
	assert.Equal(t, ReasonExit, result.Reason)
	assert.Contains(t, result.Message, "npm: command not found")
	assert.Contains(t, result.Stderr, "npm: command not found")
}

func TestRun_MalformedPayloadTolerated(t *testing.T) {
	desc := fakeSkill(t, "sloppy", `echo "--- JSON Output ---"
echo '{"suggestions": ['
`)

	result := New().Run(context.Background(), desc, "")

	assert.True(t, result.Success)
	assert.Nil(t, result.Payload)
	assert.Contains(t, result.RawOutput, `{"suggestions": [`)
}

func TestRun_Timeout(t *testing.T) {
	desc := fakeSkill(t, "slow", "sleep 5\n")

	start := time.Now()
	result := New(WithTimeout(200*time.Millisecond)).Run(context.Background(), desc, "")

	assert.False(t, result.Success)
	assert.Equal(t, ReasonTimeout, result.Reason)
	assert.Contains(t, result.Message, "timed out")
	assert.NotContains(t, result.Message, "failed")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_ManifestTimeoutWins(t *testing.T) {
	desc := fakeSkill(t, "slow", "sleep 5\n")
	desc.Manifest.Timeout = "100ms"

	result := New(WithTimeout(time.Minute)).Run(context.Background(), desc, "")

	assert.Equal(t, ReasonTimeout, result.Reason)
	assert.Contains(t, result.Message, "100ms")
}

func TestRun_Canceled(t *testing.T) {
	desc := fakeSkill(t, "slow", "sleep 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	result := New().Run(ctx, desc, "")

	assert.False(t, result.Success)
	assert.Equal(t, ReasonCanceled, result.Reason)
}

func TestRun_MissingEntryPoint(t *testing.T) {
	desc := fakeSkill(t, "gone", "")
	require.NoError(t, os.Remove(desc.EntryPath))

	result := New().Run(context.Background(), desc, "")

	assert.False(t, result.Success)
	assert.Equal(t, ReasonStart, result.Reason)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Message, "failed to start skill gone")
}

func TestRun_Arguments(t *testing.T) {
	desc := fakeSkill(t, "args", `for a in "$@"; do echo "arg=$a"; done
echo "skill=$SKILLGATE_SKILL extra=$EXTRA_ENV"
`)
	desc.Manifest.Args = `--mode "deep scan"`

	result := New(WithEnv("EXTRA_ENV=1")).Run(context.Background(), desc, "/srv/app", "3000")

	require.True(t, result.Success)
	lines := strings.Split(strings.TrimSpace(result.RawOutput), "\n")
	assert.Equal(t, []string{
		"arg=/srv/app",
		"arg=--mode",
		"arg=deep scan",
		"arg=3000",
		"skill=args extra=1",
	}, lines)
}

func TestRun_InvalidManifestArgs(t *testing.T) {
	desc := fakeSkill(t, "args", "echo hi\n")
	desc.Manifest.Args = `"unterminated`

	result := New().Run(context.Background(), desc, "")

	assert.False(t, result.Success)
	assert.Equal(t, ReasonStart, result.Reason)
}

func TestRun_CombinedOutput(t *testing.T) {
	desc := fakeSkill(t, "mixed", `echo "scanning" >&2
echo "--- JSON Output ---"
echo '{"status":"passed"}'
echo '{"status":"ignored"}' >&2
`)

	result := New().Run(context.Background(), desc, "")

	require.True(t, result.Success)
	assert.Contains(t, result.RawOutput, "scanning")
	assert.Contains(t, result.RawOutput, `{"status":"passed"}`)
	assert.Contains(t, result.RawOutput, `{"status":"ignored"}`)
	assert.NotContains(t, result.Stdout, "scanning")
	assert.Equal(t, "scanning\n{\"status\":\"ignored\"}\n", result.Stderr)
	assert.Equal(t, map[string]any{"status": "passed"}, result.Payload)
}

func TestRun_PayloadOnStderr(t *testing.T) {
	desc := fakeSkill(t, "stderr-report", `echo "done"
echo '{"violations":[]}' >&2
exit 1
`)

	result := New().Run(context.Background(), desc, "")

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, map[string]any{"violations": []any{}}, result.Payload)
}

func TestRun_NonExecutableEntryPoint(t *testing.T) {
	desc := fakeSkill(t, "noexec", "echo '{}'\n")
	require.NoError(t, os.Chmod(desc.EntryPath, 0o644))

	result := New().Run(context.Background(), desc, "")

	assert.False(t, result.Success)
	assert.Equal(t, ReasonStart, result.Reason)
	assert.Contains(t, result.Message, "failed to start skill noexec")
}
