package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/skills"
)

func TestParseSkillArgs(t *testing.T) {
	args, err := parseSkillArgs([]string{
		"log-analyzer=--since 1h",
		`simplifier=--path "src/my dir"`,
		"log-analyzer=--verbose",
		"git-guard=",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"log-analyzer": {"--since", "1h", "--verbose"},
		"simplifier":   {"--path", "src/my dir"},
		"git-guard":    nil,
	}, args)

	_, err = parseSkillArgs([]string{"no-equals"})
	assert.ErrorContains(t, err, "expected name=args")

	_, err = parseSkillArgs([]string{"=--flag"})
	assert.ErrorContains(t, err, "expected name=args")

	_, err = parseSkillArgs([]string{`simplifier=--path "unterminated`})
	assert.Error(t, err)
}

func TestApproverFor(t *testing.T) {
	t.Setenv("AUTO_APPROVE", "")

	auto, ok := approverFor(&VerifyConfig{AutoApprove: true}).(approval.Auto)
	require.True(t, ok)
	assert.Equal(t, "--auto-approve", auto.Source)

	assert.NotNil(t, approverFor(&VerifyConfig{}))
	assert.NotNil(t, approverFor(&VerifyConfig{TUI: true}))
}

func TestExitError(t *testing.T) {
	err := &exitError{code: exitInterrupted}
	assert.Equal(t, "exit status 130", err.Error())
}

func TestSettingsValidate(t *testing.T) {
	s := &Settings{LogFormat: "fmt"}
	s.Serve.Port = 8080
	assert.NoError(t, s.Validate())

	s.Timeout = duration(-time.Second)
	s.LogFormat = "xml"
	s.Serve.Port = 0
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout cannot be negative")
	assert.Contains(t, err.Error(), `log_format must be fmt or json, got "xml"`)
	assert.Contains(t, err.Error(), "serve.port must be between 1 and 65535")
}

func TestSettingsYAML(t *testing.T) {
	s := &Settings{Timeout: duration(5 * time.Minute), LogLevel: "info", LogFormat: "fmt"}
	s.Watch.Debounce = duration(2 * time.Second)

	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 5m0s")
	assert.Contains(t, string(out), "debounce: 2s")
	assert.NotContains(t, string(out), "skills_dir")
}

func TestServiceConfig(t *testing.T) {
	s := &Settings{SkillsDir: "/skills", Timeout: duration(time.Minute)}
	s.History.Enabled = true
	s.History.DBPath = "/tmp/history.db"

	cfg := s.serviceConfig(true)
	assert.Equal(t, "/skills", cfg.SkillsDir)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryPath)

	assert.Empty(t, s.serviceConfig(false).HistoryPath)

	s.History.Enabled = false
	assert.Empty(t, s.serviceConfig(true).HistoryPath)
}

func TestWriteSkillsTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeSkillsTable(&buf, []skills.Descriptor{
		{Name: "security-audit", Manifest: skills.Manifest{Description: "Audit dependencies"}},
		{Name: "visual-verifier"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "security-audit")
	assert.Contains(t, out, "security")
	assert.Contains(t, out, "Audit dependencies")
	assert.Contains(t, out, "[web]")
}
