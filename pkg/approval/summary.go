package approval

import (
	"fmt"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/report"
)

// Items returns up to limit human-readable offending items of a stage.
func Items(outcome report.StageOutcome, limit int) []string {
	var items []string
	add := func(s string) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		items = append(items, s)
		return true
	}

	for _, v := range outcome.Vulnerabilities {
		if !add(v.String()) {
			return items
		}
	}
	for _, e := range outcome.Criticals {
		if !add(e.String()) {
			return items
		}
	}
	for _, e := range outcome.Errors {
		if !add(e.String()) {
			return items
		}
	}
	for _, i := range outcome.Issues {
		if !add(i.String()) {
			return items
		}
	}
	return items
}

// WriteSummary prints per-stage statuses and the first limit offending items
// of every failed stage.
func WriteSummary(p presenter.Presenter, r *report.VerificationReport, limit int) {
	p.Section("Verification Summary")
	if r.Stack.Limited() {
		p.Warning("No stack detected: running in limited verification mode")
	} else {
		p.Info(fmt.Sprintf("Target: %s (%s)", r.Target, r.Stack.Name()))
	}

	for _, s := range r.Steps {
		if s.Name == report.StageApprove {
			continue
		}
		p.Stage(s.Name, string(s.Status), s.Message)
	}

	for _, s := range r.Failed() {
		items := Items(s.StageOutcome, limit)
		if len(items) == 0 {
			continue
		}
		p.Separator()
		p.Warning(fmt.Sprintf("%s: %s", s.Name, s.Message))
		for _, item := range items {
			p.Info("    - " + item)
		}
	}

	if r.SecurityFailed() {
		p.Warning("Security vulnerabilities were found: the run will exit non-zero even if approved")
	}
	p.Separator()
}
