package skills

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		mode := os.FileMode(0o644)
		if file == DefaultEntryPoint {
			mode = 0o755
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), mode))
	}
	return dir
}

func TestNewRegistry(t *testing.T) {
	t.Run("default root", func(t *testing.T) {
		r, err := NewRegistry()
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(r.Root()))
		assert.Equal(t, filepath.Join(".skillgate", "skills"), filepath.Join(filepath.Base(filepath.Dir(r.Root())), filepath.Base(r.Root())))
	})

	t.Run("custom root", func(t *testing.T) {
		dir := t.TempDir()
		r, err := NewRegistry(WithRoot(dir))
		require.NoError(t, err)
		assert.Equal(t, dir, r.Root())
	})

	t.Run("invalid entry point", func(t *testing.T) {
		_, err := NewRegistry(WithEntryPoint("a/b"))
		assert.Error(t, err)
	})
}

func TestDiscover(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix execute bits")
	}

	root := t.TempDir()
	writeSkill(t, root, "alpha", map[string]string{DefaultEntryPoint: "#!/bin/sh\necho ok\n"})
	writeSkill(t, root, "beta", map[string]string{
		DefaultEntryPoint: "#!/bin/sh\nexit 1\n",
		"schema.json":     `{"type":"object"}`,
		"instructions.md": "# Beta\n",
	})
	writeSkill(t, root, "notes", map[string]string{"README.md": "not a skill"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0o644))

	r, err := NewRegistry(WithRoot(root))
	require.NoError(t, err)

	descriptors, err := r.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "alpha", descriptors[0].Name)
	assert.Equal(t, filepath.Join(root, "alpha", "run"), descriptors[0].EntryPath)
	assert.Empty(t, descriptors[0].SchemaPath)
	assert.Empty(t, descriptors[0].InstructionsPath)

	assert.Equal(t, "beta", descriptors[1].Name)
	assert.Equal(t, filepath.Join(root, "beta", "schema.json"), descriptors[1].SchemaPath)
	assert.Equal(t, filepath.Join(root, "beta", "instructions.md"), descriptors[1].InstructionsPath)
}

func TestDiscover_NonExecutableEntryPointKept(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix execute bits")
	}

	root := t.TempDir()
	dir := writeSkill(t, root, "broken", nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run"), []byte("#!/bin/sh\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir-entry", "run"), 0o755))

	r, err := NewRegistry(WithRoot(root))
	require.NoError(t, err)

	descriptors, err := r.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "broken", descriptors[0].Name)
	assert.Equal(t, filepath.Join(dir, "run"), descriptors[0].EntryPath)

	_, ok, warning := r.load("broken")
	assert.True(t, ok)
	require.Error(t, warning)
	assert.Contains(t, warning.Error(), "is not executable")
}

func TestDiscover_MissingRoot(t *testing.T) {
	r, err := NewRegistry(WithRoot(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, err)

	descriptors, err := r.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistryUnavailable))
	assert.NotNil(t, descriptors)
	assert.Empty(t, descriptors)
}

func TestDiscover_Manifests(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix execute bits")
	}

	root := t.TempDir()
	writeSkill(t, root, "audit", map[string]string{
		DefaultEntryPoint: "#!/bin/sh\n",
		"skill.toml": `
description = "dependency audit"
category = "security"
requires = ["stack"]
timeout = "90s"
args = "--level 'high only'"
`,
	})
	writeSkill(t, root, "screens", map[string]string{
		DefaultEntryPoint: "#!/bin/sh\n",
		"SKILL.md": `---
description: takes screenshots
category: visual
requires: web
timeout: 2m
---

# Screens

Run against a dev server.
`,
	})
	writeSkill(t, root, "bad-manifest", map[string]string{
		DefaultEntryPoint: "#!/bin/sh\n",
		"skill.toml":      `category = "unknown"`,
	})
	writeSkill(t, root, "log-analyzer", map[string]string{DefaultEntryPoint: "#!/bin/sh\n"})

	r, err := NewRegistry(WithRoot(root))
	require.NoError(t, err)
	descriptors, err := r.Discover(context.Background())
	require.NoError(t, err)

	byName := map[string]Descriptor{}
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	require.Len(t, byName, 4, "a broken manifest must not hide a runnable skill")

	audit := byName["audit"]
	assert.Equal(t, CategorySecurity, audit.Category())
	assert.Equal(t, []string{RequiresStack}, audit.Requires())
	assert.Equal(t, 90*time.Second, audit.Timeout())
	args, err := audit.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"--level", "high only"}, args)

	screens := byName["screens"]
	assert.Equal(t, CategoryVisual, screens.Category())
	assert.Equal(t, []string{RequiresWeb}, screens.Requires())
	assert.Equal(t, 2*time.Minute, screens.Timeout())
	assert.Equal(t, "takes screenshots", screens.Manifest.Description)

	instructions, err := Instructions(screens)
	require.NoError(t, err)
	assert.Contains(t, instructions, "# Screens")
	assert.NotContains(t, instructions, "category: visual")

	assert.Equal(t, CategoryLogs, byName["log-analyzer"].Category())
	assert.Equal(t, CategoryGeneric, byName["bad-manifest"].Category())
}

func TestGet(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix execute bits")
	}

	root := t.TempDir()
	writeSkill(t, root, "alpha", map[string]string{DefaultEntryPoint: "#!/bin/sh\n"})

	r, err := NewRegistry(WithRoot(root))
	require.NoError(t, err)

	d, err := r.Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", d.Name)

	_, err = r.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestInstructions_Missing(t *testing.T) {
	_, err := Instructions(Descriptor{Name: "alpha"})
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	descriptors := []Descriptor{{Name: "security-audit"}, {Name: "log-analyzer"}, {Name: "simplifier"}}

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"no patterns", nil, []string{"security-audit", "log-analyzer", "simplifier"}},
		{"exact", []string{"simplifier"}, []string{"simplifier"}},
		{"wildcards", []string{"sec*", "log-*"}, []string{"security-audit", "log-analyzer"}},
		{"no match", []string{"visual*"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(descriptors, tt.patterns)
			require.NoError(t, err)
			names := make([]string, 0, len(got))
			for _, d := range got {
				names = append(names, d.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	_, err := Filter(descriptors, []string{"[unclosed"})
	assert.Error(t, err)
}

func TestDescriptorDefaults(t *testing.T) {
	d := Descriptor{Name: "visual-verifier"}
	assert.Equal(t, CategoryVisual, d.Category())
	assert.Equal(t, []string{RequiresWeb}, d.Requires())
	assert.Zero(t, d.Timeout())

	args, err := d.Args()
	require.NoError(t, err)
	assert.Nil(t, args)

	d.Manifest.Args = `"unterminated`
	_, err = d.Args()
	assert.Error(t, err)
}
