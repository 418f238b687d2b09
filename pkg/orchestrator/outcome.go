package orchestrator

import (
	"fmt"
	"sort"

	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/runner"
	"github.com/jingkaihe/skillgate/pkg/skills"
)

// Evaluate folds a skill result into a stage outcome. Execution failures are
// always failed with an "execution failed" or "timed out" message so they
// read differently from a skill reporting problems in its payload.
func Evaluate(desc skills.Descriptor, res runner.Result) report.StageOutcome {
	category := desc.Category()
	if category == skills.CategoryGeneric && res.HasPayload() {
		category = inferFromPayload(res.Payload)
	}

	out := report.StageOutcome{
		Skill:      desc.Name,
		Category:   string(category),
		Reason:     string(res.Reason),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.ExitCode >= 0 {
		code := res.ExitCode
		out.ExitCode = &code
	}

	if !res.Success {
		out.Status = report.StatusFailed
		if res.Reason == runner.ReasonTimeout {
			out.Message = res.Message
		} else {
			out.Message = "execution failed: " + res.Message
		}
		return out
	}

	if !res.HasPayload() {
		out.Status = report.StatusCompleted
		out.Message = "completed without a structured result"
		return out
	}

	var err error
	switch category {
	case skills.CategorySecurity:
		err = evaluateSecurity(&out, res)
	case skills.CategoryLogs:
		err = evaluateLogs(&out, res)
	case skills.CategorySimplifier:
		err = evaluateSimplifier(&out, res)
	case skills.CategoryNaming:
		err = evaluateNaming(&out, res)
	case skills.CategoryVisual:
		out.Status = report.StatusCompleted
		out.Message = "visual verification guide produced"
		out.Details = res.Payload
	default:
		evaluateGeneric(&out, res)
	}
	if err != nil && category == skills.CategorySecurity {
		// a security verdict is never dropped because one field has an
		// unexpected type
		evaluateSecurityRaw(&out, res)
		return out
	}
	if err != nil {
		// Unexpected payload shape: keep the raw payload and treat the run
		// as success without structured data.
		out = report.StageOutcome{
			Status:     report.StatusCompleted,
			Message:    "completed, payload did not match the expected shape",
			Skill:      out.Skill,
			Category:   out.Category,
			ExitCode:   out.ExitCode,
			DurationMS: out.DurationMS,
			Details:    res.Payload,
		}
	}
	return out
}

// inferFromPayload picks a category for skills that declare none, based on
// the keys of their payload.
func inferFromPayload(payload map[string]any) skills.Category {
	has := func(key string) bool {
		_, ok := payload[key]
		return ok
	}
	switch {
	case has("audit"), has("vulnerabilities"):
		return skills.CategorySecurity
	case has("criticals"), has("errors") && has("summary"):
		return skills.CategoryLogs
	case has("suggestions"):
		return skills.CategorySimplifier
	case has("violations"):
		return skills.CategoryNaming
	}
	return skills.CategoryGeneric
}

func evaluateSecurity(out *report.StageOutcome, res runner.Result) error {
	var p report.SecurityPayload
	if err := report.Decode(res.Payload, &p); err != nil {
		return err
	}
	out.Vulnerabilities = p.AllVulnerabilities()

	switch {
	case len(out.Vulnerabilities) > 0:
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported %s", plural(len(out.Vulnerabilities), "vulnerability", "vulnerabilities"))
	case p.Audit == nil && res.ExitCode != 0:
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported issues (exit code %d)", res.ExitCode)
	case p.Audit == nil:
		out.Status = report.StatusPassed
		out.Message = "no known vulnerabilities"
	default:
		switch p.Audit.Status {
		case report.AuditVulnerable:
			out.Status = report.StatusFailed
			out.Message = "reported the project as vulnerable"
		case report.AuditSecure:
			out.Status = report.StatusPassed
			out.Message = "no known vulnerabilities"
		case report.AuditToolNotFound:
			out.Status = report.StatusWarning
			out.Message = "audit tool not found"
		case report.AuditNotSupported:
			out.Status = report.StatusWarning
			out.Message = "audit not supported for this stack"
		default:
			out.Status = report.StatusWarning
			out.Message = fmt.Sprintf("audit could not complete (status %q)", p.Audit.Status)
		}
		for _, e := range p.Audit.Errors {
			out.Issues = append(out.Issues, report.Issue{Type: "audit", Message: e})
		}
	}
	return nil
}

// evaluateSecurityRaw reads the audit verdict straight from the untyped
// payload. Vulnerability lists may be arrays of objects or objects keyed by
// package name.
func evaluateSecurityRaw(out *report.StageOutcome, res runner.Result) {
	out.Details = res.Payload
	out.Vulnerabilities = rawVulnerabilities(res.Payload["vulnerabilities"])

	status := ""
	if audit, ok := res.Payload["audit"].(map[string]any); ok {
		status, _ = audit["status"].(string)
		out.Vulnerabilities = append(rawVulnerabilities(audit["vulnerabilities"]), out.Vulnerabilities...)
	}

	switch {
	case len(out.Vulnerabilities) > 0:
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported %s", plural(len(out.Vulnerabilities), "vulnerability", "vulnerabilities"))
	case status == report.AuditVulnerable:
		out.Status = report.StatusFailed
		out.Message = "reported the project as vulnerable"
	case res.ExitCode != 0:
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported issues (exit code %d)", res.ExitCode)
	case status == report.AuditSecure:
		out.Status = report.StatusPassed
		out.Message = "no known vulnerabilities"
	default:
		out.Status = report.StatusWarning
		out.Message = "audit result could not be read"
	}
}

func rawVulnerabilities(v any) []report.Vulnerability {
	var out []report.Vulnerability
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			vuln := report.Vulnerability{Name: "unknown"}
			if m, ok := item.(map[string]any); ok {
				if name, ok := m["name"].(string); ok && name != "" {
					vuln.Name = name
				}
				vuln.Severity = report.Stringify(m["severity"])
			}
			out = append(out, vuln)
		}
	case map[string]any:
		names := make([]string, 0, len(list))
		for name := range list {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			vuln := report.Vulnerability{Name: name}
			if m, ok := list[name].(map[string]any); ok {
				vuln.Severity = report.Stringify(m["severity"])
			}
			out = append(out, vuln)
		}
	}
	return out
}

func evaluateLogs(out *report.StageOutcome, res runner.Result) error {
	var p report.LogPayload
	if err := report.Decode(res.Payload, &p); err != nil {
		return err
	}
	out.Errors = p.Errors
	out.Criticals = p.Criticals
	out.Details = map[string]any{
		"error_count":    p.Summary.ErrorCount,
		"critical_count": p.Summary.CriticalCount,
		"warning_count":  p.Summary.WarningCount,
	}
	if len(p.CodeAnalysisGuides) > 0 {
		out.Details["code_analysis_guides"] = p.CodeAnalysisGuides
	}

	if p.Status == "failed" || p.Summary.HasSevereErrors {
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported %s and %s",
			plural(max(p.Summary.ErrorCount, len(p.Errors)), "error", "errors"),
			plural(max(p.Summary.CriticalCount, len(p.Criticals)), "critical", "criticals"))
		return nil
	}
	out.Status = report.StatusPassed
	out.Message = "no severe log errors"
	return nil
}

func evaluateSimplifier(out *report.StageOutcome, res runner.Result) error {
	var p report.SimplifierPayload
	if err := report.Decode(res.Payload, &p); err != nil {
		return err
	}
	out.Status = report.StatusCompleted
	out.Suggestions = p.Suggestions
	out.Message = plural(len(p.Suggestions), "suggestion", "suggestions")
	return nil
}

func evaluateNaming(out *report.StageOutcome, res runner.Result) error {
	var p report.NamingPayload
	if err := report.Decode(res.Payload, &p); err != nil {
		return err
	}
	out.Issues = p.Violations

	switch {
	case p.Status == "failed", p.Valid != nil && !*p.Valid, p.Status == "" && len(p.Violations) > 0:
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported %s", plural(len(p.Violations), "violation", "violations"))
	case p.Status == "warning":
		out.Status = report.StatusWarning
		out.Message = fmt.Sprintf("reported %s", plural(len(p.Violations), "warning", "warnings"))
	default:
		out.Status = report.StatusPassed
		out.Message = "naming conventions respected"
	}
	return nil
}

func evaluateGeneric(out *report.StageOutcome, res runner.Result) {
	out.Details = res.Payload
	if res.ExitCode != 0 {
		out.Status = report.StatusFailed
		out.Message = fmt.Sprintf("reported issues (exit code %d)", res.ExitCode)
		return
	}
	out.Status = report.StatusCompleted
	out.Message = "completed"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
