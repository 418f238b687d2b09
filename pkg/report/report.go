// Package report defines the aggregated result of one verification run.
package report

import (
	"time"

	"github.com/jingkaihe/skillgate/pkg/stack"
)

// Status of a single pipeline stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusWarning   Status = "warning"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusCompleted, StatusSkipped, StatusWarning:
		return true
	}
	return false
}

// Decision is the human response at the approval gate.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionSkipped  Decision = "skipped"
)

// Fixed stage names. Skill stages are named after the skill.
const (
	StagePlan    = "plan"
	StageBuild   = "build"
	StageVerify  = "verify"
	StageApprove = "approve"
)

// Vulnerability is one finding of a dependency audit.
type Vulnerability struct {
	Name     string `json:"name"`
	Severity string `json:"severity,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

// LogEntry is one error or critical line found by a log scan.
type LogEntry struct {
	Level    string `json:"level,omitempty"`
	Module   string `json:"module,omitempty"`
	FuncName string `json:"funcName,omitempty"`
	Lineno   int    `json:"lineno,omitempty"`
	Message  string `json:"message"`
}

// Suggestion is a code simplification hint.
type Suggestion struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Issue is a generic rule violation, e.g. a branch naming problem.
type Issue struct {
	Type       string `json:"type,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// StageOutcome is the recorded result of one stage.
type StageOutcome struct {
	Status          Status          `json:"status"`
	Message         string          `json:"message"`
	Skill           string          `json:"skill,omitempty"`
	Category        string          `json:"category,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	ExitCode        *int            `json:"exitCode,omitempty"`
	DurationMS      int64           `json:"durationMs,omitempty"`
	Decision        Decision        `json:"decision,omitempty"`
	Suggestions     []Suggestion    `json:"suggestions,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
	Errors          []LogEntry      `json:"errors,omitempty"`
	Criticals       []LogEntry      `json:"criticals,omitempty"`
	Issues          []Issue         `json:"issues,omitempty"`
	Details         map[string]any  `json:"details,omitempty"`
}

// Pending returns a fresh pending outcome.
func Pending() StageOutcome {
	return StageOutcome{Status: StatusPending}
}

// Stage is a named outcome in pipeline order.
type Stage struct {
	Name string
	StageOutcome
}

// VerificationReport is owned by the orchestrator for the duration of a run.
// Steps keeps pipeline order and marshals as a JSON object keyed by stage name.
type VerificationReport struct {
	RunID     string     `json:"runId"`
	Timestamp time.Time  `json:"timestamp"`
	Target    string     `json:"target"`
	Stack     stack.Info `json:"stack"`
	Steps     Steps      `json:"steps"`
}

// New creates a report whose template holds plan, build, one stage per
// entry of stages, and approve, all pending.
func New(runID, target string, info stack.Info, now time.Time, stages ...string) *VerificationReport {
	r := &VerificationReport{
		RunID:     runID,
		Timestamp: now.UTC(),
		Target:    target,
		Stack:     info,
	}
	names := append([]string{StagePlan, StageBuild}, stages...)
	names = append(names, StageApprove)
	for _, name := range names {
		r.Steps = append(r.Steps, &Stage{Name: name, StageOutcome: Pending()})
	}
	return r
}

// Stage returns the named stage.
func (r *VerificationReport) Stage(name string) (*Stage, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Set records the outcome of a stage. Stages missing from the template are
// inserted before approve.
func (r *VerificationReport) Set(name string, outcome StageOutcome) {
	if s, ok := r.Stage(name); ok {
		s.StageOutcome = outcome
		return
	}
	stage := &Stage{Name: name, StageOutcome: outcome}
	n := len(r.Steps)
	if n > 0 && r.Steps[n-1].Name == StageApprove {
		approve := r.Steps[n-1]
		r.Steps = append(r.Steps[:n-1], stage, approve)
		return
	}
	r.Steps = append(r.Steps, stage)
}

// SkillStages returns the verify stages in order.
func (r *VerificationReport) SkillStages() []*Stage {
	var out []*Stage
	for _, s := range r.Steps {
		switch s.Name {
		case StagePlan, StageBuild, StageApprove:
			continue
		}
		out = append(out, s)
	}
	return out
}

// PendingStages lists stages that have not reached a terminal status.
func (r *VerificationReport) PendingStages() []string {
	var pending []string
	for _, s := range r.Steps {
		if !s.Status.Terminal() {
			pending = append(pending, s.Name)
		}
	}
	return pending
}

// Decision returns the approval decision, or "" if approval has not happened.
func (r *VerificationReport) Decision() Decision {
	if s, ok := r.Stage(StageApprove); ok {
		return s.Decision
	}
	return ""
}

// SecurityFailed reports whether any security stage failed.
func (r *VerificationReport) SecurityFailed() bool {
	for _, s := range r.Steps {
		if s.Category == "security" && s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Failed returns the stages with failed status.
func (r *VerificationReport) Failed() []*Stage {
	var out []*Stage
	for _, s := range r.Steps {
		if s.Status == StatusFailed && s.Name != StageApprove {
			out = append(out, s)
		}
	}
	return out
}

// ExitCode is 0 only when the run was approved and no security stage failed.
// A security failure overrides approval.
func (r *VerificationReport) ExitCode() int {
	if r.Decision() == DecisionApproved && !r.SecurityFailed() {
		return 0
	}
	return 1
}
