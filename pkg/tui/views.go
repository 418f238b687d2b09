package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/report"
)

// Tokyo Night palette
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#7aa2f7", Dark: "#7aa2f7"})
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9ece6a", Dark: "#9ece6a"})
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#f7768e", Dark: "#f7768e"})
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#e0af68", Dark: "#e0af68"})
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	itemStyle    = lipgloss.NewStyle().PaddingLeft(4)
	helpKeyStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#bb9af7", Dark: "#bb9af7"})
	frameStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

func statusStyle(status report.Status) lipgloss.Style {
	switch status {
	case report.StatusPassed, report.StatusCompleted:
		return passStyle
	case report.StatusFailed:
		return failStyle
	case report.StatusWarning:
		return warnStyle
	default:
		return mutedStyle
	}
}

// RenderSummary renders the stage list of r and the first limit offending
// items of each failed stage.
func RenderSummary(r *report.VerificationReport, limit int) string {
	var b strings.Builder

	target := r.Target
	if r.Stack.Limited() {
		target += " " + warnStyle.Render("(no stack detected, limited verification mode)")
	} else {
		target += " " + mutedStyle.Render("("+r.Stack.Name()+")")
	}
	b.WriteString(target + "\n\n")

	width := 0
	for _, s := range r.Steps {
		width = max(width, len(s.Name))
	}
	for _, s := range r.Steps {
		if s.Name == report.StageApprove {
			continue
		}
		status := statusStyle(s.Status).Render(fmt.Sprintf("%-10s", s.Status))
		fmt.Fprintf(&b, "%-*s  %s %s\n", width, s.Name, status, s.Message)
		if s.Status != report.StatusFailed {
			continue
		}
		for _, item := range approval.Items(s.StageOutcome, limit) {
			b.WriteString(itemStyle.Render("- "+item) + "\n")
		}
	}

	if r.SecurityFailed() {
		b.WriteString("\n" + failStyle.Render("Security vulnerabilities found: the run exits non-zero even if approved") + "\n")
	}
	return b.String()
}

func renderHelp(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, helpKeyStyle.Render(h.Key)+" "+mutedStyle.Render(h.Desc))
	}
	return strings.Join(parts, mutedStyle.Render(" • "))
}
