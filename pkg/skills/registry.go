package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/osutil"
)

const (
	// DefaultEntryPoint is the file name every skill directory must provide.
	DefaultEntryPoint = "run"
	schemaFileName    = "schema.json"
)

var instructionFileNames = []string{"instructions.md", skillFileName}

// ErrRegistryUnavailable is returned alongside an empty result when the skills
// root does not exist. It is a warning, not a fatal condition.
var ErrRegistryUnavailable = errors.New("skills directory unavailable")

// Registry discovers skills under a single root directory.
type Registry struct {
	root       string
	entryPoint string
}

// Option is a function that configures a Registry
type Option func(*Registry) error

// WithRoot sets the skills root directory
func WithRoot(dir string) Option {
	return func(r *Registry) error {
		if dir == "" {
			return errors.New("skills root cannot be empty")
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve skills root %s", dir)
		}
		r.root = abs
		return nil
	}
}

// WithEntryPoint overrides the entry point file name
func WithEntryPoint(name string) Option {
	return func(r *Registry) error {
		if name == "" || strings.ContainsRune(name, filepath.Separator) {
			return errors.Errorf("invalid entry point %q", name)
		}
		r.entryPoint = name
		return nil
	}
}

// DefaultRoot returns the repo-local skills directory.
func DefaultRoot() string {
	return filepath.Join(".skillgate", "skills")
}

// NewRegistry creates a registry. Without options it scans DefaultRoot.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{entryPoint: DefaultEntryPoint}
	if err := WithRoot(DefaultRoot())(r); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Root returns the absolute skills root
func (r *Registry) Root() string {
	return r.root
}

// Discover lists the skills under the root in directory-listing order.
// Subdirectories without an entry point file are skipped. A skill whose entry
// point is not executable is still listed, with a warning, so running it
// fails visibly instead of the skill disappearing. If the root
// is missing an empty list is returned together with ErrRegistryUnavailable.
func (r *Registry) Discover(ctx context.Context) ([]Descriptor, error) {
	log := logger.G(ctx).WithField("skills_root", r.root)

	info, err := os.Stat(r.root)
	if err != nil || !info.IsDir() {
		return []Descriptor{}, errors.Wrap(ErrRegistryUnavailable, r.root)
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return []Descriptor{}, errors.Wrapf(ErrRegistryUnavailable, "%s: %s", r.root, err)
	}

	var warnings *multierror.Error
	descriptors := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		desc, ok, err := r.load(entry.Name())
		if err != nil {
			warnings = multierror.Append(warnings, err)
		}
		if ok {
			descriptors = append(descriptors, desc)
		}
	}

	if warnings.ErrorOrNil() != nil {
		log.WithError(warnings).Warn("some skills have configuration problems")
	}
	log.WithField("count", len(descriptors)).Debug("discovered skills")
	return descriptors, nil
}

// Get returns the named skill.
func (r *Registry) Get(ctx context.Context, name string) (Descriptor, error) {
	descriptors, err := r.Discover(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range descriptors {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, errors.Errorf("skill '%s' not found in %s", name, r.root)
}

// load builds a descriptor for one subdirectory. ok is false when the
// directory is not a skill; err carries non-fatal manifest problems.
func (r *Registry) load(name string) (desc Descriptor, ok bool, err error) {
	dir, err := securejoin.SecureJoin(r.root, name)
	if err != nil {
		return Descriptor{}, false, errors.Wrapf(err, "skill %s", name)
	}
	info, statErr := os.Stat(dir)
	if statErr != nil || !info.IsDir() {
		return Descriptor{}, false, nil
	}

	entryPath, err := securejoin.SecureJoin(dir, r.entryPoint)
	if err != nil {
		return Descriptor{}, false, errors.Wrapf(err, "skill %s", name)
	}
	entryInfo, statErr := os.Stat(entryPath)
	if statErr != nil || entryInfo.IsDir() {
		return Descriptor{}, false, nil
	}
	var problems *multierror.Error
	if !osutil.IsExecutable(entryPath, entryInfo.Mode()) {
		problems = multierror.Append(problems, errors.Errorf("skill %s: %s is not executable", name, entryPath))
	}

	desc = Descriptor{
		Name:      name,
		Dir:       dir,
		EntryPath: entryPath,
	}
	if p, found := existingFile(dir, schemaFileName); found {
		desc.SchemaPath = p
	}
	for _, candidate := range instructionFileNames {
		if p, found := existingFile(dir, candidate); found {
			desc.InstructionsPath = p
			break
		}
	}

	desc.Manifest, err = loadManifest(dir)
	if err != nil {
		problems = multierror.Append(problems, errors.Wrapf(err, "skill %s", name))
	}
	return desc, true, problems.ErrorOrNil()
}

func loadManifest(dir string) (Manifest, error) {
	if p, found := existingFile(dir, manifestFileName); found {
		return loadTOMLManifest(p)
	}
	if p, found := existingFile(dir, skillFileName); found {
		return loadFrontmatterManifest(p)
	}
	return Manifest{}, nil
}

func existingFile(dir, name string) (string, bool) {
	p, err := securejoin.SecureJoin(dir, name)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

// Instructions returns the human-readable instructions of a skill without
// any frontmatter.
func Instructions(desc Descriptor) (string, error) {
	if desc.InstructionsPath == "" {
		return "", errors.Errorf("skill '%s' has no instructions", desc.Name)
	}
	content, err := os.ReadFile(desc.InstructionsPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read instructions for skill %s", desc.Name)
	}
	return extractBody(string(content)), nil
}

// Filter keeps the descriptors whose name matches any of the glob patterns.
// An empty pattern list keeps everything.
func Filter(descriptors []Descriptor, patterns []string) ([]Descriptor, error) {
	if len(patterns) == 0 {
		return descriptors, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid skill pattern %q", p)
		}
		globs = append(globs, g)
	}

	filtered := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		for _, g := range globs {
			if g.Match(d.Name) {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered, nil
}
