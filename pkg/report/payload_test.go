package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestDecode_Security(t *testing.T) {
	payload := parse(t, `{
		"audit": {
			"status": "vulnerable",
			"vulnerabilities": [{"name": "lodash", "severity": "high", "title": "Prototype Pollution", "url": "https://example.com"}],
			"errors": []
		},
		"vulnerabilities": [{"name": "CVE-x", "severity": "critical"}]
	}`)

	var p SecurityPayload
	require.NoError(t, Decode(payload, &p))
	require.NotNil(t, p.Audit)
	assert.Equal(t, AuditVulnerable, p.Audit.Status)

	all := p.AllVulnerabilities()
	require.Len(t, all, 2)
	assert.Equal(t, "lodash", all[0].Name)
	assert.Equal(t, "Prototype Pollution", all[0].Title)
	assert.Equal(t, "CVE-x", all[1].Name)
}

func TestDecode_Logs(t *testing.T) {
	payload := parse(t, `{
		"status": "failed",
		"summary": {"error_count": 2, "critical_count": 1, "warning_count": 0, "has_severe_errors": true},
		"errors": [{"level": "ERROR", "module": "api", "funcName": "handle", "lineno": "42", "message": "boom"}],
		"criticals": [{"level": "CRITICAL", "module": "db", "funcName": "connect", "lineno": 7, "message": "down"}]
	}`)

	var p LogPayload
	require.NoError(t, Decode(payload, &p))
	assert.Equal(t, "failed", p.Status)
	assert.Equal(t, 2, p.Summary.ErrorCount)
	assert.True(t, p.Summary.HasSevereErrors)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, 42, p.Errors[0].Lineno)
	assert.Equal(t, "handle", p.Errors[0].FuncName)
	require.Len(t, p.Criticals, 1)
	assert.Equal(t, 7, p.Criticals[0].Lineno)
}

func TestDecode_Naming(t *testing.T) {
	payload := parse(t, `{"status": "failed", "violations": [{"type": "branch_name", "severity": "error", "message": "bad branch"}]}`)

	var p NamingPayload
	require.NoError(t, Decode(payload, &p))
	assert.Equal(t, "failed", p.Status)
	assert.Nil(t, p.Valid)
	require.Len(t, p.Violations, 1)
	assert.Equal(t, "bad branch", p.Violations[0].Message)
}

func TestDecode_TypeMismatch(t *testing.T) {
	var p SimplifierPayload
	err := Decode(map[string]any{"suggestions": "not a list"}, &p)
	assert.Error(t, err)
}

func TestDecode_NonStringSeverity(t *testing.T) {
	payload := parse(t, `{"audit": {"status": "vulnerable", "vulnerabilities": [
		{"name": "django", "severity": {"cvssv3": 9.8}},
		{"name": "jinja2", "severity": 7.5},
		{"name": "urllib3", "severity": ["high", "medium"]}
	]}}`)

	var p SecurityPayload
	require.NoError(t, Decode(payload, &p))
	vulns := p.AllVulnerabilities()
	require.Len(t, vulns, 3)
	assert.Equal(t, `{"cvssv3":9.8}`, vulns[0].Severity)
	assert.Equal(t, "7.5", vulns[1].Severity)
	assert.Equal(t, `["high","medium"]`, vulns[2].Severity)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "high", Stringify("high"))
	assert.Equal(t, "9.8", Stringify(9.8))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"score":1}`, Stringify(map[string]any{"score": 1}))
}
