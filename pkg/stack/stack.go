// Package stack guesses the technology stack of a target project from the
// files at its root.
package stack

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/gjson"
)

// Info is the detection result. A nil Stack means limited verification mode:
// stack dependent skills are skipped rather than failed.
type Info struct {
	Stack          *string  `json:"stack"`
	PackageManager *string  `json:"packageManager"`
	IsWeb          bool     `json:"isWeb"`
	Frameworks     []string `json:"frameworks,omitempty"`
}

// Name returns the stack name or "" in limited mode.
func (i Info) Name() string {
	if i.Stack == nil {
		return ""
	}
	return *i.Stack
}

// Limited reports whether no stack was detected.
func (i Info) Limited() bool {
	return i.Stack == nil
}

// Known returns an Info for the given stack, used by tests and the API.
func Known(name, packageManager string) Info {
	return Info{Stack: &name, PackageManager: &packageManager}
}

var webFrameworks = map[string]bool{
	"react":     true,
	"vue":       true,
	"angular":   true,
	"svelte":    true,
	"next":      true,
	"nuxt":      true,
	"remix":     true,
	"sveltekit": true,
	"express":   true,
	"fastify":   true,
	"koa":       true,
}

// Detect inspects dir. Python lock files win over package.json, which wins
// over go.mod and Cargo.toml, matching how mixed repositories are usually
// driven.
func Detect(dir string) Info {
	switch {
	case exists(dir, "uv.lock"):
		return python(dir, "uv")
	case exists(dir, "poetry.lock"):
		return python(dir, "poetry")
	case exists(dir, "pyproject.toml"), exists(dir, "requirements.txt"):
		return python(dir, "pip")
	case exists(dir, "package.json"):
		return node(dir)
	case exists(dir, "go.mod"):
		return Info{Stack: ptr("go"), PackageManager: ptr("go")}
	case exists(dir, "Cargo.toml"):
		return rust(dir)
	}
	return Info{}
}

func python(dir, pm string) Info {
	info := Info{Stack: ptr("python"), PackageManager: ptr(pm)}

	var pyproject struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if _, err := toml.DecodeFile(filepath.Join(dir, "pyproject.toml"), &pyproject); err == nil {
		var names []string
		for _, dep := range pyproject.Project.Dependencies {
			names = append(names, requirementName(dep))
		}
		for name := range pyproject.Tool.Poetry.Dependencies {
			if name != "python" {
				names = append(names, name)
			}
		}
		info.Frameworks = sortedUnique(names)
	}
	return info
}

// requirementName strips version specifiers and extras from a PEP 508 string.
func requirementName(req string) string {
	end := strings.IndexAny(req, " <>=!~;[(")
	if end >= 0 {
		req = req[:end]
	}
	return strings.ToLower(strings.TrimSpace(req))
}

func node(dir string) Info {
	pm := "npm"
	switch {
	case exists(dir, "pnpm-lock.yaml"):
		pm = "pnpm"
	case exists(dir, "yarn.lock"):
		pm = "yarn"
	}
	info := Info{Stack: ptr("node"), PackageManager: ptr(pm)}

	content, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil || !gjson.ValidBytes(content) {
		return info
	}

	var names []string
	for _, section := range []string{"dependencies", "devDependencies"} {
		gjson.GetBytes(content, section).ForEach(func(key, _ gjson.Result) bool {
			name := key.String()
			names = append(names, name)
			if webFrameworks[webName(name)] {
				info.IsWeb = true
			}
			return true
		})
	}
	info.Frameworks = sortedUnique(names)
	return info
}

// webName maps scoped or sub-packages to their framework, e.g. @sveltejs/kit.
func webName(pkg string) string {
	switch pkg {
	case "@sveltejs/kit":
		return "sveltekit"
	case "@angular/core":
		return "angular"
	case "@remix-run/react", "@remix-run/node":
		return "remix"
	case "react-dom":
		return "react"
	}
	return pkg
}

func rust(dir string) Info {
	info := Info{Stack: ptr("rust"), PackageManager: ptr("cargo")}

	var cargo struct {
		Dependencies map[string]any `toml:"dependencies"`
	}
	if _, err := toml.DecodeFile(filepath.Join(dir, "Cargo.toml"), &cargo); err == nil {
		names := make([]string, 0, len(cargo.Dependencies))
		for name := range cargo.Dependencies {
			names = append(names, name)
		}
		info.Frameworks = sortedUnique(names)
	}
	return info
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func ptr(s string) *string {
	return &s
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
