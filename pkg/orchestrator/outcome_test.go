package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/runner"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/stack"
)

func TestEvaluate_ExecutionFailures(t *testing.T) {
	out := Evaluate(desc("security-audit"), runner.Result{
		Reason: runner.ReasonStart, ExitCode: -1, Message: "failed to start skill security-audit: permission denied",
	})
	assert.Equal(t, report.StatusFailed, out.Status)
	assert.Equal(t, "execution failed: failed to start skill security-audit: permission denied", out.Message)
	assert.Nil(t, out.ExitCode)
	assert.Equal(t, "security", out.Category)

	out = Evaluate(desc("slow"), runner.Result{
		Reason: runner.ReasonTimeout, ExitCode: -1, Message: "skill slow timed out after 1s", Duration: time.Second,
	})
	assert.Equal(t, report.StatusFailed, out.Status)
	assert.Contains(t, out.Message, "timed out")
	assert.Equal(t, int64(1000), out.DurationMS)
	assert.Equal(t, "timeout", out.Reason)
}

func TestEvaluate_SuccessWithoutPayload(t *testing.T) {
	out := Evaluate(desc("security-audit"), runner.Result{Success: true})
	assert.Equal(t, report.StatusCompleted, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
}

func TestEvaluate_Security(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		exit    int
		status  report.Status
		vulns   int
	}{
		{
			name:    "nested vulnerable",
			payload: map[string]any{"audit": map[string]any{"status": "vulnerable", "vulnerabilities": []any{map[string]any{"name": "lodash", "severity": "high"}}}},
			exit:    1,
			status:  report.StatusFailed,
			vulns:   1,
		},
		{
			name:    "secure",
			payload: map[string]any{"audit": map[string]any{"status": "secure"}},
			status:  report.StatusPassed,
		},
		{
			name:    "tool missing",
			payload: map[string]any{"audit": map[string]any{"status": "tool_not_found", "errors": []any{"pip-audit not installed"}}},
			status:  report.StatusWarning,
		},
		{
			name:    "not supported",
			payload: map[string]any{"audit": map[string]any{"status": "not_supported"}},
			status:  report.StatusWarning,
		},
		{
			name:    "top level list",
			payload: map[string]any{"vulnerabilities": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}},
			exit:    1,
			status:  report.StatusFailed,
			vulns:   2,
		},
		{
			name:    "empty top level list",
			payload: map[string]any{"vulnerabilities": []any{}},
			status:  report.StatusPassed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(desc("security-audit"), runner.Result{Success: true, ExitCode: tt.exit, Payload: tt.payload})
			assert.Equal(t, tt.status, out.Status)
			assert.Len(t, out.Vulnerabilities, tt.vulns)
			assert.Equal(t, "security", out.Category)
		})
	}
}

func TestEvaluate_Logs(t *testing.T) {
	out := Evaluate(desc("log-analyzer"), runner.Result{Success: true, ExitCode: 1, Payload: map[string]any{
		"status":  "failed",
		"summary": map[string]any{"error_count": 1, "critical_count": 0, "has_severe_errors": true},
		"errors": []any{
			map[string]any{"level": "ERROR", "module": "app", "funcName": "main", "lineno": 12, "message": "boom"},
		},
	}})
	assert.Equal(t, report.StatusFailed, out.Status)
	assert.Equal(t, "reported 1 error and 0 criticals", out.Message)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 12, out.Errors[0].Lineno)

	out = Evaluate(desc("log-analyzer"), runner.Result{Success: true, Payload: map[string]any{
		"status":  "passed",
		"summary": map[string]any{"warning_count": 3},
	}})
	assert.Equal(t, report.StatusPassed, out.Status)
	assert.Equal(t, 3, out.Details["warning_count"])
}

func TestEvaluate_Simplifier(t *testing.T) {
	out := Evaluate(desc("simplifier"), runner.Result{Success: true, Payload: map[string]any{
		"suggestions": []any{map[string]any{"type": "nesting", "message": "flatten", "file": "a.go", "line": 3}},
	}})
	assert.Equal(t, report.StatusCompleted, out.Status)
	assert.Equal(t, "1 suggestion", out.Message)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, "a.go", out.Suggestions[0].File)
}

func TestEvaluate_Naming(t *testing.T) {
	out := Evaluate(desc("git-guard"), runner.Result{Success: true, ExitCode: 1, Payload: map[string]any{
		"status": "failed",
		"violations": []any{
			map[string]any{"type": "branch", "severity": "error", "message": "bad branch", "suggestion": "feat/x"},
		},
	}})
	assert.Equal(t, report.StatusFailed, out.Status)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, "feat/x", out.Issues[0].Suggestion)

	out = Evaluate(desc("git-guard"), runner.Result{Success: true, Payload: map[string]any{"status": "passed", "valid": true}})
	assert.Equal(t, report.StatusPassed, out.Status)
}

func TestEvaluate_Visual(t *testing.T) {
	payload := map[string]any{"guide": "open http://localhost:3000"}
	out := Evaluate(desc("visual-verifier"), runner.Result{Success: true, Payload: payload})
	assert.Equal(t, report.StatusCompleted, out.Status)
	assert.Equal(t, payload, out.Details)
}

func TestEvaluate_GenericInfersCategory(t *testing.T) {
	out := Evaluate(desc("custom"), runner.Result{Success: true, Payload: map[string]any{"suggestions": []any{}}})
	assert.Equal(t, "simplifier", out.Category)
	assert.Equal(t, report.StatusCompleted, out.Status)

	out = Evaluate(desc("custom"), runner.Result{Success: true, ExitCode: 2, Payload: map[string]any{"ok": false}})
	assert.Equal(t, "generic", out.Category)
	assert.Equal(t, report.StatusFailed, out.Status)
	assert.Equal(t, "reported issues (exit code 2)", out.Message)

	out = Evaluate(desc("custom"), runner.Result{Success: true, Payload: map[string]any{"ok": true}})
	assert.Equal(t, report.StatusCompleted, out.Status)
}

func TestEvaluate_UnexpectedShape(t *testing.T) {
	payload := map[string]any{"suggestions": "not a list"}
	out := Evaluate(desc("simplifier"), runner.Result{Success: true, Payload: payload})
	assert.Equal(t, report.StatusCompleted, out.Status)
	assert.Contains(t, out.Message, "did not match")
	assert.Equal(t, payload, out.Details)
}

func TestEvaluate_SecurityWithLooseSeverity(t *testing.T) {
	payload := map[string]any{"audit": map[string]any{
		"status": "vulnerable",
		"vulnerabilities": []any{
			map[string]any{"name": "django", "severity": map[string]any{"cvssv3": 9.8}},
			map[string]any{"name": "jinja2", "severity": 7.5},
		},
	}}
	out := Evaluate(desc("security-audit"), runner.Result{Success: true, ExitCode: 1, Payload: payload})

	assert.Equal(t, report.StatusFailed, out.Status)
	require.Len(t, out.Vulnerabilities, 2)
	assert.Equal(t, report.Vulnerability{Name: "django", Severity: `{"cvssv3":9.8}`}, out.Vulnerabilities[0])
	assert.Equal(t, "7.5", out.Vulnerabilities[1].Severity)

	r := report.New("run-1", "/repo", stack.Known("python", "pip"), time.Now(), "security-audit")
	r.Set("security-audit", out)
	r.Set(report.StageApprove, report.StageOutcome{Status: report.StatusCompleted, Decision: report.DecisionApproved})
	assert.Equal(t, 1, r.ExitCode())
}

func TestEvaluate_SecurityNeverDowngradedOnShapeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		exit    int
		status  report.Status
		vulns   []string
	}{
		{
			name: "vulnerabilities keyed by package",
			payload: map[string]any{
				"audit":           "npm audit",
				"vulnerabilities": map[string]any{"minimist": map[string]any{"severity": "critical"}, "left-pad": map[string]any{"severity": "low"}},
			},
			exit:   1,
			status: report.StatusFailed,
			vulns:  []string{"left-pad", "minimist"},
		},
		{
			name:    "unreadable audit with failing exit code",
			payload: map[string]any{"audit": "broken"},
			exit:    1,
			status:  report.StatusFailed,
		},
		{
			name:    "unreadable audit with clean exit code",
			payload: map[string]any{"audit": "broken"},
			status:  report.StatusWarning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(desc("security-audit"), runner.Result{Success: true, ExitCode: tt.exit, Payload: tt.payload})
			assert.Equal(t, tt.status, out.Status)
			assert.NotEqual(t, report.StatusCompleted, out.Status)
			var names []string
			for _, v := range out.Vulnerabilities {
				names = append(names, v.Name)
			}
			assert.Equal(t, tt.vulns, names)
			assert.Equal(t, tt.payload, out.Details)
		})
	}
}

func TestApplicable(t *testing.T) {
	node := stack.Known("node", "npm")
	web := node
	web.IsWeb = true

	withRequires := func(reqs ...string) skills.Descriptor {
		d := desc("x")
		d.Manifest.Requires = reqs
		return d
	}

	tests := []struct {
		name   string
		desc   skills.Descriptor
		info   stack.Info
		ok     bool
		reason string
	}{
		{"no requirements", desc("x"), stack.Info{}, true, ""},
		{"web on web project", withRequires("web"), web, true, ""},
		{"web on non web project", withRequires("web"), node, false, "not a web project (stack: node)"},
		{"web in limited mode", desc("visual-verifier"), stack.Info{}, false, "no stack detected (limited verification mode)"},
		{"any stack", withRequires("stack"), node, true, ""},
		{"any stack in limited mode", withRequires("stack"), stack.Info{}, false, "no stack detected (limited verification mode)"},
		{"named stack match", withRequires("python", "node"), node, true, ""},
		{"named stack mismatch", withRequires("python"), node, false, "requires python, detected node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Applicable(tt.desc, tt.info)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
