package orchestrator

import (
	"fmt"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/stack"
)

// Applicable decides whether a skill should run against a project with the
// given stack. When it should not, the returned reason is recorded on the
// skipped stage.
func Applicable(desc skills.Descriptor, info stack.Info) (bool, string) {
	var stacks []string
	for _, req := range desc.Requires() {
		switch strings.ToLower(req) {
		case skills.RequiresWeb:
			if info.Limited() {
				return false, "no stack detected (limited verification mode)"
			}
			if !info.IsWeb {
				return false, fmt.Sprintf("not a web project (stack: %s)", info.Name())
			}
		case skills.RequiresStack:
			if info.Limited() {
				return false, "no stack detected (limited verification mode)"
			}
		default:
			stacks = append(stacks, strings.ToLower(req))
		}
	}

	if len(stacks) == 0 {
		return true, ""
	}
	if info.Limited() {
		return false, "no stack detected (limited verification mode)"
	}
	for _, s := range stacks {
		if s == info.Name() {
			return true, ""
		}
	}
	return false, fmt.Sprintf("requires %s, detected %s", strings.Join(stacks, " or "), info.Name())
}
