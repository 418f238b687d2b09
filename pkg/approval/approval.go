// Package approval implements the human gate between verification and
// knowledge persistence.
package approval

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/report"
)

// DefaultSummaryLimit is how many offending items are shown per failed stage.
const DefaultSummaryLimit = 5

// Provider asks for a decision on a finished verification report. The report
// must be treated as read-only.
type Provider interface {
	RequestApproval(ctx context.Context, r *report.VerificationReport) (report.Decision, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, r *report.VerificationReport) (report.Decision, error)

// RequestApproval implements Provider
func (f ProviderFunc) RequestApproval(ctx context.Context, r *report.VerificationReport) (report.Decision, error) {
	return f(ctx, r)
}

// ParseDecision maps a human answer to a decision. Anything unrecognised is
// treated as skipped.
func ParseDecision(answer string) report.Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "a", "approve", "approved", "y", "yes":
		return report.DecisionApproved
	case "r", "reject", "rejected", "n", "no":
		return report.DecisionRejected
	default:
		return report.DecisionSkipped
	}
}

// Auto approves without asking and logs that the override was used.
type Auto struct {
	// Source names what triggered the override, for the log line.
	Source string
}

// RequestApproval implements Provider
func (a Auto) RequestApproval(ctx context.Context, r *report.VerificationReport) (report.Decision, error) {
	source := a.Source
	if source == "" {
		source = "auto-approve"
	}
	logger.G(ctx).WithField("override", source).WithField("run_id", r.RunID).
		Warn("approval override in effect, auto-approving verification run")
	return report.DecisionApproved, nil
}

// OverrideEnvVars are checked in order by EnvOverride.
var OverrideEnvVars = []string{"AUTO_APPROVE", "SKILLGATE_AUTO_APPROVE"}

// EnvOverride returns the name of the environment variable requesting
// auto-approval, or "" when none is set to a truthy value.
func EnvOverride() string {
	for _, name := range OverrideEnvVars {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			continue
		}
		if strings.EqualFold(value, "yes") {
			return name
		}
		if b, err := strconv.ParseBool(value); err == nil && b {
			return name
		}
	}
	return ""
}

// FromEnv returns an Auto provider when the override environment is set and
// fallback otherwise.
func FromEnv(fallback Provider) Provider {
	if name := EnvOverride(); name != "" {
		return Auto{Source: name}
	}
	return fallback
}

// Terminal prompts on the terminal through a presenter.
type Terminal struct {
	presenter presenter.Presenter
	limit     int

	mu sync.Mutex
	// pending receives the answer of a prompt whose request was abandoned.
	pending chan string
}

// NewTerminal creates a terminal provider. A nil presenter uses the default.
func NewTerminal(p presenter.Presenter) *Terminal {
	if p == nil {
		p = presenter.Default()
	}
	return &Terminal{presenter: p, limit: DefaultSummaryLimit}
}

// RequestApproval prints the summary and blocks on the answer. Cancelling ctx
// abandons the request, but a blocking terminal read cannot be interrupted:
// the prompt stays open and its answer goes to the next request, so at most
// one read is ever outstanding. Requests must not be made concurrently.
func (t *Terminal) RequestApproval(ctx context.Context, r *report.VerificationReport) (report.Decision, error) {
	WriteSummary(t.presenter, r, t.limit)

	t.mu.Lock()
	answers := t.pending
	if answers == nil {
		answers = make(chan string, 1)
		t.pending = answers
		go func() {
			answers <- t.presenter.Prompt("Approve this verification run? (A)pprove, (R)eject, (S)kip", "A", "R", "S")
		}()
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return report.DecisionSkipped, ctx.Err()
	case answer := <-answers:
		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()
		decision := ParseDecision(answer)
		logger.G(ctx).WithField("answer", answer).WithField("decision", decision).Debug("approval answered")
		return decision, nil
	}
}
