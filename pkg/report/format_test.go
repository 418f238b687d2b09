package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStrings(t *testing.T) {
	assert.Equal(t, "lodash (high): Prototype Pollution",
		Vulnerability{Name: "lodash", Severity: "high", Title: "Prototype\nPollution"}.String())
	assert.Equal(t, "unknown", Vulnerability{}.String())

	assert.Equal(t, "[ERROR] app:main:12 boom",
		LogEntry{Level: "ERROR", Module: "app", FuncName: "main", Lineno: 12, Message: "boom"}.String())
	assert.Equal(t, "boom", LogEntry{Message: "boom"}.String())

	assert.Equal(t, "branch: bad name", Issue{Type: "branch", Message: "bad name"}.String())
	assert.Equal(t, "bad name", Issue{Message: "bad name"}.String())

	assert.Equal(t, "nesting: flatten this (a.go:3)",
		Suggestion{Type: "nesting", Message: "flatten\n  this", File: "a.go", Line: 3}.String())
	assert.Equal(t, "long function (b.go)", Suggestion{Message: "long function", File: "b.go"}.String())
}
