// Package skills discovers skill units: self-contained executables that run a
// single check against a target project and print a JSON result.
//
// A skill is a directory under the skills root containing an executable named
// "run". It may also carry a schema.json describing its payload, an
// instructions.md or SKILL.md for humans, and a skill.toml manifest declaring
// its category, applicability and timeout.
package skills

import (
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
)

// Category decides how a skill's payload is folded into the report.
type Category string

const (
	CategorySecurity   Category = "security"
	CategorySimplifier Category = "simplifier"
	CategoryLogs       Category = "logs"
	CategoryVisual     Category = "visual"
	CategoryNaming     Category = "naming"
	CategoryGeneric    Category = "generic"
)

// Applicability requirements a skill may declare.
const (
	RequiresWeb   = "web"
	RequiresStack = "stack"
)

// Manifest is the optional per-skill configuration read from skill.toml or
// from the SKILL.md frontmatter.
type Manifest struct {
	Description string   `toml:"description"`
	Category    Category `toml:"category"`
	Requires    []string `toml:"requires"`
	Timeout     string   `toml:"timeout"`
	Args        string   `toml:"args"`
}

// Descriptor identifies one discovered skill. It is immutable once returned
// by the registry.
type Descriptor struct {
	Name             string   `json:"name"`
	Dir              string   `json:"dir"`
	EntryPath        string   `json:"entryPath"`
	SchemaPath       string   `json:"schemaPath,omitempty"`
	InstructionsPath string   `json:"instructionsPath,omitempty"`
	Manifest         Manifest `json:"manifest"`
}

// Category returns the declared category, falling back to one inferred from
// the skill name.
func (d Descriptor) Category() Category {
	if d.Manifest.Category != "" {
		return d.Manifest.Category
	}
	return inferCategory(d.Name)
}

// Timeout returns the manifest timeout, or zero when none (or an invalid one)
// is declared.
func (d Descriptor) Timeout() time.Duration {
	if d.Manifest.Timeout == "" {
		return 0
	}
	timeout, err := time.ParseDuration(d.Manifest.Timeout)
	if err != nil || timeout < 0 {
		return 0
	}
	return timeout
}

// Args splits the manifest args string the way a POSIX shell would.
func (d Descriptor) Args() ([]string, error) {
	if d.Manifest.Args == "" {
		return nil, nil
	}
	args, err := shellquote.Split(d.Manifest.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid args for skill %s", d.Name)
	}
	return args, nil
}

// Requires returns the applicability requirements of the skill. Well-known
// skills without a manifest get their historical defaults.
func (d Descriptor) Requires() []string {
	if len(d.Manifest.Requires) > 0 {
		return d.Manifest.Requires
	}
	return defaultRequires[d.Name]
}

var categoryByName = map[string]Category{
	"security-audit":  CategorySecurity,
	"security":        CategorySecurity,
	"log-analyzer":    CategoryLogs,
	"log-analysis":    CategoryLogs,
	"simplifier":      CategorySimplifier,
	"code-simplifier": CategorySimplifier,
	"visual-verifier": CategoryVisual,
	"git-guard":       CategoryNaming,
}

var defaultRequires = map[string][]string{
	"visual-verifier": {RequiresWeb},
}

func inferCategory(name string) Category {
	if c, ok := categoryByName[name]; ok {
		return c
	}
	return CategoryGeneric
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategorySecurity, CategorySimplifier, CategoryLogs, CategoryVisual, CategoryNaming, CategoryGeneric:
		return true
	}
	return false
}
