package skills

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

const (
	manifestFileName = "skill.toml"
	skillFileName    = "SKILL.md"
)

func loadTOMLManifest(path string) (Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Manifest{}, errors.Wrapf(err, "failed to decode %s", path)
	}
	if err := validateManifest(path, m); err != nil {
		return Manifest{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return m, errors.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return m, nil
}

// loadFrontmatterManifest reads the YAML frontmatter of a SKILL.md file.
// A SKILL.md without frontmatter yields an empty manifest.
func loadFrontmatterManifest(path string) (Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	pctx := parser.NewContext()
	var buf bytes.Buffer
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return Manifest{}, errors.Wrapf(err, "failed to parse %s", path)
	}

	data, err := meta.TryGet(pctx)
	if err != nil {
		return Manifest{}, errors.Wrapf(err, "invalid frontmatter in %s", path)
	}

	m := Manifest{
		Description: stringValue(data["description"]),
		Category:    Category(stringValue(data["category"])),
		Timeout:     stringValue(data["timeout"]),
		Args:        stringValue(data["args"]),
		Requires:    stringList(data["requires"]),
	}
	if err := validateManifest(path, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func validateManifest(path string, m Manifest) error {
	if m.Category != "" && !ValidCategory(m.Category) {
		return errors.Errorf("%s: unknown category %q", path, m.Category)
	}
	if m.Timeout != "" {
		d := Descriptor{Manifest: m}
		if d.Timeout() == 0 {
			return errors.Errorf("%s: invalid timeout %q", path, m.Timeout)
		}
	}
	return nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringValue(item))
		}
		return out
	}
	return nil
}

// extractBody removes YAML frontmatter and returns the markdown body
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
		}
	}
	return content
}
