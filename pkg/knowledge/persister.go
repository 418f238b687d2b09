// Package knowledge records approved verification runs as dated lessons in a
// shared Markdown document.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	udiff "github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/report"
)

// MaxItems caps each list of items in an entry.
const MaxItems = 3

// ErrDocumentNotFound is returned when the knowledge document does not exist.
// The document is never created implicitly.
var ErrDocumentNotFound = errors.New("knowledge document not found")

// Persister appends lessons to knowledge documents.
type Persister struct {
	now func() time.Time
}

// Option configures a Persister
type Option func(*Persister)

// WithClock overrides the clock used for entry dates
func WithClock(now func() time.Time) Option {
	return func(p *Persister) { p.now = now }
}

// NewPersister creates a Persister
func NewPersister(opts ...Option) *Persister {
	p := &Persister{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordApprovedRun appends an entry for r to the Lessons Learned section of
// the document at docPath. Concurrent writers are serialised with a file lock.
func (p *Persister) RecordApprovedRun(ctx context.Context, r *report.VerificationReport, docPath string) error {
	if err := checkDocument(docPath); err != nil {
		return err
	}

	entry := FormatEntry(r, p.now())
	err := lockedfile.Transform(docPath, func(data []byte) ([]byte, error) {
		return []byte(Append(string(data), entry)), nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update knowledge document %s", docPath)
	}

	logger.G(ctx).WithField("doc", docPath).WithField("run_id", r.RunID).Info("recorded approved run in knowledge document")
	return nil
}

// Preview returns the unified diff RecordApprovedRun would apply.
func (p *Persister) Preview(r *report.VerificationReport, docPath string) (string, error) {
	if err := checkDocument(docPath); err != nil {
		return "", err
	}
	data, err := lockedfile.Read(docPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read knowledge document %s", docPath)
	}
	before := string(data)
	after := Append(before, FormatEntry(r, p.now()))
	return udiff.Unified(docPath, docPath, before, after), nil
}

func checkDocument(docPath string) error {
	info, err := os.Stat(docPath)
	if os.IsNotExist(err) {
		return errors.Wrap(ErrDocumentNotFound, docPath)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to stat knowledge document %s", docPath)
	}
	if info.IsDir() {
		return errors.Errorf("knowledge document %s is a directory", docPath)
	}
	return nil
}

// ShortID returns the first segment of a run id.
func ShortID(runID string) string {
	if i := strings.IndexByte(runID, '-'); i > 0 {
		return runID[:i]
	}
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

// FormatEntry renders a dated block for r. Stages with nothing to report are
// left out and every item list is capped at MaxItems.
func FormatEntry(r *report.VerificationReport, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#### [%s] Verification run %s\n", now.Format("2006-01-02"), ShortID(r.RunID))

	target := r.Target
	if name := r.Stack.Name(); name != "" {
		target += " (" + name + ")"
	} else {
		target += " (no stack detected)"
	}
	fmt.Fprintf(&b, "- **Target**: %s\n", target)

	for _, s := range r.Steps {
		if s.Name == report.StageApprove || trivial(s) {
			continue
		}
		fmt.Fprintf(&b, "- **%s** (%s)", s.Name, s.Status)
		if s.Message != "" {
			fmt.Fprintf(&b, ": %s", strings.Join(strings.Fields(s.Message), " "))
		}
		b.WriteString("\n")

		writeItems(&b, s.Vulnerabilities)
		writeItems(&b, s.Criticals)
		writeItems(&b, s.Errors)
		writeItems(&b, s.Suggestions)
		writeItems(&b, s.Issues)
	}

	decision := r.Decision()
	if decision == "" {
		decision = report.DecisionSkipped
	}
	fmt.Fprintf(&b, "- **Decision**: %s\n", decision)
	if r.SecurityFailed() {
		b.WriteString("- **Exit**: non-zero, security vulnerabilities present\n")
	}
	return b.String()
}

func trivial(s *report.Stage) bool {
	switch s.Status {
	case report.StatusFailed, report.StatusWarning:
		return false
	}
	return len(s.Vulnerabilities) == 0 && len(s.Criticals) == 0 && len(s.Errors) == 0 &&
		len(s.Suggestions) == 0 && len(s.Issues) == 0
}

func writeItems[T fmt.Stringer](b *strings.Builder, items []T) {
	for i, item := range items {
		if i == MaxItems {
			fmt.Fprintf(b, "  - ... and %d more\n", len(items)-MaxItems)
			return
		}
		fmt.Fprintf(b, "  - %s\n", item.String())
	}
}
