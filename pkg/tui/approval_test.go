package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/stack"
)

func testReport() *report.VerificationReport {
	r := report.New("run-1", "/tmp/project", stack.Known("node", "npm"), time.Now(), "security-audit", "log-analyzer")
	r.Set(report.StagePlan, report.StageOutcome{Status: report.StatusCompleted})
	r.Set(report.StageBuild, report.StageOutcome{Status: report.StatusCompleted})
	var vulns []report.Vulnerability
	for i := 0; i < 6; i++ {
		vulns = append(vulns, report.Vulnerability{Name: "dep" + string(rune('0'+i)), Severity: "high"})
	}
	r.Set("security-audit", report.StageOutcome{
		Status: report.StatusFailed, Message: "reported 6 vulnerabilities", Category: "security", Vulnerabilities: vulns,
	})
	r.Set("log-analyzer", report.StageOutcome{Status: report.StatusPassed, Message: "no severe log errors"})
	return r
}

func press(m tea.Model, keys string) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)})
}

func TestApprovalModel_Decisions(t *testing.T) {
	tests := map[string]report.Decision{
		"a": report.DecisionApproved,
		"A": report.DecisionApproved,
		"r": report.DecisionRejected,
		"s": report.DecisionSkipped,
	}
	for input, want := range tests {
		m, cmd := press(NewApprovalModel(testReport()), input)
		require.NotNil(t, cmd, input)
		assert.IsType(t, tea.QuitMsg{}, cmd())

		decision, ok := m.(ApprovalModel).Decision()
		assert.True(t, ok)
		assert.Equal(t, want, decision, input)
	}
}

func TestApprovalModel_IgnoresOtherKeys(t *testing.T) {
	m, cmd := press(NewApprovalModel(testReport()), "x")
	assert.Nil(t, cmd)
	_, ok := m.(ApprovalModel).Decision()
	assert.False(t, ok)
}

func TestApprovalModel_CtrlC(t *testing.T) {
	m, cmd := NewApprovalModel(testReport()).Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, m.(ApprovalModel).Aborted())
}

func TestApprovalModel_View(t *testing.T) {
	m, _ := NewApprovalModel(testReport()).Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	view := m.View()

	assert.Contains(t, view, "Verification Summary")
	assert.Contains(t, view, "security-audit")
	assert.Contains(t, view, "dep4 (high)")
	assert.NotContains(t, view, "dep5 (high)")
	assert.Contains(t, view, "approve")
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(testReport(), 2)
	assert.Contains(t, out, "/tmp/project")
	assert.Contains(t, out, "dep1 (high)")
	assert.NotContains(t, out, "dep2 (high)")
	assert.Contains(t, out, "exits non-zero even if approved")
	assert.False(t, strings.Contains(out, "approve "), "approve stage is not listed")
}
