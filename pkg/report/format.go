package report

import (
	"fmt"
	"strings"
)

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// String renders "name (severity): title".
func (v Vulnerability) String() string {
	s := v.Name
	if s == "" {
		s = "unknown"
	}
	if v.Severity != "" {
		s += fmt.Sprintf(" (%s)", v.Severity)
	}
	if v.Title != "" {
		s += ": " + oneLine(v.Title)
	}
	return s
}

// String renders "[level] module:funcName:lineno message".
func (e LogEntry) String() string {
	var loc []string
	if e.Module != "" {
		loc = append(loc, e.Module)
	}
	if e.FuncName != "" {
		loc = append(loc, e.FuncName)
	}
	if e.Lineno > 0 {
		loc = append(loc, fmt.Sprint(e.Lineno))
	}
	prefix := ""
	if e.Level != "" {
		prefix = "[" + e.Level + "] "
	}
	if len(loc) == 0 {
		return prefix + oneLine(e.Message)
	}
	return prefix + strings.Join(loc, ":") + " " + oneLine(e.Message)
}

// String renders "type: message".
func (i Issue) String() string {
	if i.Type == "" {
		return oneLine(i.Message)
	}
	return i.Type + ": " + oneLine(i.Message)
}

// String renders "type: message (file:line)".
func (s Suggestion) String() string {
	out := oneLine(s.Message)
	if s.Type != "" {
		out = s.Type + ": " + out
	}
	switch {
	case s.File != "" && s.Line > 0:
		out += fmt.Sprintf(" (%s:%d)", s.File, s.Line)
	case s.File != "":
		out += fmt.Sprintf(" (%s)", s.File)
	}
	return out
}
