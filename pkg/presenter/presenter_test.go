package presenter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	p := New()
	assert.NotNil(t, p)
	assert.Equal(t, os.Stderr, p.output)
	assert.Equal(t, os.Stderr, p.errorOutput)
	assert.False(t, p.quiet)
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		sgColor  string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"SKILLGATE_COLOR always", "", "always", ColorAlways},
		{"SKILLGATE_COLOR force", "", "force", ColorAlways},
		{"SKILLGATE_COLOR never", "", "never", ColorNever},
		{"SKILLGATE_COLOR off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"invalid value", "", "rainbow", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("SKILLGATE_COLOR", tt.sgColor)
			if tt.noColor == "" {
				os.Unsetenv("NO_COLOR")
			}

			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	var errOut bytes.Buffer
	p := NewWithOptions(nil, &errOut, ColorNever)
	p.SetQuiet(true)

	p.Error(errors.New("knowledge doc missing"), "persist")
	assert.Contains(t, errOut.String(), "[ERROR] persist: knowledge doc missing")

	errOut.Reset()
	p.Error(nil, "context")
	assert.Empty(t, errOut.String())
}

func TestMessages(t *testing.T) {
	var out bytes.Buffer
	p := NewWithOptions(&out, nil, ColorNever)

	p.Success("approved")
	p.Warning("skill skipped")
	p.Info("plain")
	p.Section("Verification")
	p.Separator()

	s := out.String()
	assert.Contains(t, s, "✓ approved")
	assert.Contains(t, s, "⚠ skill skipped")
	assert.Contains(t, s, "plain\n")
	assert.Contains(t, s, "Verification\n------------\n")
	assert.Contains(t, s, strings.Repeat("-", 60))
}

func TestQuietMode(t *testing.T) {
	var out bytes.Buffer
	p := NewWithOptions(&out, nil, ColorNever)
	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.Success("x")
	p.Warning("x")
	p.Info("x")
	p.Section("x")
	p.Stage("alpha", "passed", "")
	p.Separator()

	assert.Empty(t, out.String())
}

func TestStage(t *testing.T) {
	var out bytes.Buffer
	p := NewWithOptions(&out, nil, ColorNever)

	p.Stage("security-audit", "failed", "reported 2 vulnerabilities")

	line := out.String()
	assert.True(t, strings.HasPrefix(line, "  security-audit"))
	assert.Contains(t, line, "failed")
	assert.Contains(t, line, "reported 2 vulnerabilities")
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	p := NewWithOptions(&out, nil, ColorNever)
	p.SetInput(strings.NewReader("  a  \nsecond\n"))

	assert.Equal(t, "a", p.Prompt("Approve?", "A", "R", "S"))
	assert.Contains(t, out.String(), "Approve? [A/R/S]: ")
	assert.Equal(t, "second", p.Prompt("Again"))
	assert.Equal(t, "", p.Prompt("EOF"))
}

func TestPrompt_NoTrailingNewline(t *testing.T) {
	p := NewWithOptions(&bytes.Buffer{}, nil, ColorNever)
	p.SetInput(strings.NewReader("r"))

	assert.Equal(t, "r", p.Prompt("Approve?"))
}

func TestGlobalFunctions(t *testing.T) {
	original := defaultPresenter
	defer func() { defaultPresenter = original }()

	var out, errOut bytes.Buffer
	defaultPresenter = NewWithOptions(&out, &errOut, ColorNever)

	Error(errors.New("boom"), "ctx")
	Success("ok")
	Warning("careful")
	Info("info")
	Stage("plan", "completed", "")

	assert.Contains(t, errOut.String(), "boom")
	assert.Contains(t, out.String(), "ok")
	assert.Contains(t, out.String(), "careful")
	assert.Contains(t, out.String(), "info")
	assert.Contains(t, out.String(), "plan")
	assert.Same(t, defaultPresenter, Default())
}
