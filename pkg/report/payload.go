package report

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Audit status values reported by the security skill.
const (
	AuditVulnerable   = "vulnerable"
	AuditSecure       = "secure"
	AuditToolNotFound = "tool_not_found"
	AuditNotSupported = "not_supported"
	AuditError        = "error"
)

// SecurityPayload is the output of a dependency audit skill. Vulnerabilities
// may be reported under audit or at the top level.
type SecurityPayload struct {
	Audit           *AuditResult    `json:"audit,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
}

// AuditResult is the nested audit block of a SecurityPayload.
type AuditResult struct {
	Status          string          `json:"status"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
}

// AllVulnerabilities merges nested and top-level findings.
func (p SecurityPayload) AllVulnerabilities() []Vulnerability {
	var out []Vulnerability
	if p.Audit != nil {
		out = append(out, p.Audit.Vulnerabilities...)
	}
	return append(out, p.Vulnerabilities...)
}

// LogPayload is the output of a log analysis skill.
type LogPayload struct {
	Status             string     `json:"status"`
	Summary            LogSummary `json:"summary"`
	Errors             []LogEntry `json:"errors,omitempty"`
	Criticals          []LogEntry `json:"criticals,omitempty"`
	CodeAnalysisGuides []any      `json:"code_analysis_guides,omitempty"`
}

// LogSummary holds the counters of a LogPayload.
type LogSummary struct {
	ErrorCount      int  `json:"error_count"`
	CriticalCount   int  `json:"critical_count"`
	WarningCount    int  `json:"warning_count"`
	HasSevereErrors bool `json:"has_severe_errors"`
}

// SimplifierPayload is the output of a code simplification skill.
type SimplifierPayload struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// NamingPayload is the output of a branch/commit naming skill.
type NamingPayload struct {
	Status     string  `json:"status"`
	Valid      *bool   `json:"valid,omitempty"`
	Violations []Issue `json:"violations,omitempty"`
}

// Decode converts a parsed JSON payload into one of the typed payloads
// above. Numbers and booleans are decoded leniently since skills are written
// in many languages, and objects or arrays found where a string is expected
// (e.g. a CVSS severity block) are kept as compact JSON text.
func Decode(payload map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       stringifyHook,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create payload decoder")
	}
	if err := decoder.Decode(payload); err != nil {
		return errors.Wrap(err, "failed to decode skill payload")
	}
	return nil
}

func stringifyHook(from, to reflect.Type, data any) (any, error) {
	if from == nil || to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Map, reflect.Slice:
		return Stringify(data), nil
	}
	return data, nil
}

// Stringify renders a loosely typed JSON value as text: strings as is,
// numbers and booleans formatted, objects and arrays as compact JSON.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, int, bool:
		return fmt.Sprint(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
