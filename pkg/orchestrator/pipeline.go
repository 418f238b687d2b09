// Package orchestrator drives a verification run: it discovers skills, runs
// the applicable ones against the target, asks for approval and records
// approved runs as lessons.
package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/runner"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/stack"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
)

// ErrInterrupted is returned when a run is cancelled before it finishes.
// Nothing is persisted for an interrupted run.
var ErrInterrupted = errors.New("verification run interrupted")

// Registry lists the skills available to a run.
type Registry interface {
	Discover(ctx context.Context) ([]skills.Descriptor, error)
}

// Recorder persists an approved run.
type Recorder interface {
	Record(ctx context.Context, r *report.VerificationReport) error
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ctx context.Context, r *report.VerificationReport) error

// Record implements Recorder
func (f RecorderFunc) Record(ctx context.Context, r *report.VerificationReport) error {
	return f(ctx, r)
}

// Observer is notified every time a stage reaches a terminal status.
type Observer func(stage report.Stage)

// Pipeline runs verification. A Pipeline can be reused across runs but each
// run owns its own report.
type Pipeline struct {
	registry  Registry
	executor  runner.Executor
	approver  approval.Provider
	recorder  Recorder
	detect    func(dir string) stack.Info
	patterns  []string
	skillArgs map[string][]string
	observers []Observer
	now       func() time.Time
	newID     func() string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRegistry sets the skill registry
func WithRegistry(r Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithExecutor sets the skill executor
func WithExecutor(e runner.Executor) Option {
	return func(p *Pipeline) { p.executor = e }
}

// WithApprover sets the approval provider
func WithApprover(a approval.Provider) Option {
	return func(p *Pipeline) { p.approver = a }
}

// WithRecorder sets where approved runs are recorded. Without one, approved
// runs are not persisted.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithDetector replaces stack detection
func WithDetector(detect func(dir string) stack.Info) Option {
	return func(p *Pipeline) { p.detect = detect }
}

// WithSkillPatterns restricts the run to skills matching any of the glob
// patterns.
func WithSkillPatterns(patterns ...string) Option {
	return func(p *Pipeline) { p.patterns = append(p.patterns, patterns...) }
}

// WithSkillArgs passes extra arguments to the named skill.
func WithSkillArgs(skill string, args ...string) Option {
	return func(p *Pipeline) {
		if p.skillArgs == nil {
			p.skillArgs = map[string][]string{}
		}
		p.skillArgs[skill] = append(p.skillArgs[skill], args...)
	}
}

// WithObserver registers a stage observer
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithClock overrides the time source and run id generator
func WithClock(now func() time.Time, newID func() string) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
		if newID != nil {
			p.newID = newID
		}
	}
}

// New creates a pipeline. A registry, an executor and an approver are
// required.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		detect: stack.Detect,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	switch {
	case p.registry == nil:
		return nil, errors.New("pipeline requires a skill registry")
	case p.executor == nil:
		return nil, errors.New("pipeline requires a skill executor")
	case p.approver == nil:
		return nil, errors.New("pipeline requires an approval provider")
	}
	return p, nil
}

// Run verifies target and returns the finished report. When the run is
// interrupted the partial report is returned together with ErrInterrupted
// and nothing is recorded. When recording an approved run fails the report is
// returned with the error.
func (p *Pipeline) Run(ctx context.Context, target string) (*report.VerificationReport, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve target %s", target)
	}

	info := p.detect(abs)
	descs, registryErr := p.registry.Discover(ctx)
	if registryErr == nil {
		descs, err = skills.Filter(descs, p.patterns)
		if err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	r := report.New(p.newID(), abs, info, p.now(), names...)

	ctx = logger.WithFields(ctx, logrus.Fields{"run_id": r.RunID, "target": abs})
	log := logger.G(ctx)
	log.WithFields(logrus.Fields{
		"stack":  info.Name(),
		"skills": strings.Join(names, ","),
	}).Info("starting verification run")
	if info.Limited() {
		log.Warn("no stack detected, running in limited verification mode")
	}

	err = telemetry.WithSpan(ctx, "verification.run", func(ctx context.Context) error {
		return p.run(ctx, r, descs, registryErr)
	}, attribute.String("run.id", r.RunID), attribute.String("run.target", abs), attribute.String("run.stack", info.Name()))
	if err != nil {
		return r, err
	}

	if pending := r.PendingStages(); len(pending) > 0 {
		return r, errors.Errorf("stages left pending: %s", strings.Join(pending, ", "))
	}
	log.WithFields(logrus.Fields{
		"decision":  r.Decision(),
		"exit_code": r.ExitCode(),
	}).Info("verification run finished")
	return r, nil
}

func (p *Pipeline) run(ctx context.Context, r *report.VerificationReport, descs []skills.Descriptor, registryErr error) error {
	p.set(r, report.StagePlan, report.StageOutcome{
		Status:  report.StatusCompleted,
		Message: "no planning integration configured",
	})
	p.set(r, report.StageBuild, report.StageOutcome{
		Status:  report.StatusCompleted,
		Message: "no build integration configured",
	})

	switch {
	case registryErr != nil:
		logger.G(ctx).WithError(registryErr).Error("skills registry unavailable")
		p.set(r, report.StageVerify, report.StageOutcome{
			Status:  report.StatusFailed,
			Message: "skills registry unavailable: " + registryErr.Error(),
		})
	case len(descs) == 0:
		p.set(r, report.StageVerify, report.StageOutcome{
			Status:  report.StatusSkipped,
			Message: "no skills discovered",
		})
	}

	for _, desc := range descs {
		if ctx.Err() != nil {
			return p.interrupt(r)
		}
		if err := p.runSkill(ctx, r, desc); err != nil {
			return err
		}
	}

	decision, err := p.approver.RequestApproval(ctx, r)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return p.interrupt(r)
		}
		return errors.Wrap(err, "approval failed")
	}
	p.set(r, report.StageApprove, approveOutcome(decision))

	if decision != report.DecisionApproved || p.recorder == nil {
		return nil
	}
	if ctx.Err() != nil {
		return p.interrupt(r)
	}
	return telemetry.WithSpan(ctx, "knowledge.record", func(ctx context.Context) error {
		if err := p.recorder.Record(ctx, r); err != nil {
			return errors.Wrap(err, "failed to record approved run")
		}
		return nil
	})
}

func (p *Pipeline) runSkill(ctx context.Context, r *report.VerificationReport, desc skills.Descriptor) error {
	log := logger.G(ctx).WithField("skill", desc.Name)

	if ok, reason := Applicable(desc, r.Stack); !ok {
		log.WithField("reason", reason).Info("skipping skill")
		p.set(r, desc.Name, report.StageOutcome{
			Status:   report.StatusSkipped,
			Message:  reason,
			Skill:    desc.Name,
			Category: string(desc.Category()),
		})
		return nil
	}

	var interrupted bool
	_ = telemetry.WithSpan(ctx, "skill.run", func(ctx context.Context) error {
		res := p.executor.Run(ctx, desc, r.Target, p.skillArgs[desc.Name]...)
		if res.Reason == runner.ReasonCanceled {
			interrupted = true
			return nil
		}

		outcome := Evaluate(desc, res)
		telemetry.SetAttributes(ctx,
			attribute.String("skill.status", string(outcome.Status)),
			attribute.String("skill.category", outcome.Category),
			attribute.Int64("skill.duration_ms", outcome.DurationMS),
		)
		if outcome.Status == report.StatusFailed {
			telemetry.MarkFailed(ctx, outcome.Message)
		}
		log.WithFields(logrus.Fields{
			"status":  outcome.Status,
			"message": outcome.Message,
		}).Info("skill finished")
		p.set(r, desc.Name, outcome)
		return nil
	}, attribute.String("skill.name", desc.Name))

	if interrupted {
		return p.interrupt(r)
	}
	return nil
}

// interrupt closes out every pending stage so the partial report is still
// well formed.
func (p *Pipeline) interrupt(r *report.VerificationReport) error {
	for _, name := range r.PendingStages() {
		s, _ := r.Stage(name)
		s.StageOutcome = report.StageOutcome{
			Status:   report.StatusSkipped,
			Message:  "run interrupted",
			Skill:    s.Skill,
			Category: s.Category,
		}
	}
	return ErrInterrupted
}

func (p *Pipeline) set(r *report.VerificationReport, name string, outcome report.StageOutcome) {
	r.Set(name, outcome)
	s, _ := r.Stage(name)
	for _, o := range p.observers {
		o(*s)
	}
}

func approveOutcome(decision report.Decision) report.StageOutcome {
	switch decision {
	case report.DecisionApproved:
		return report.StageOutcome{Status: report.StatusCompleted, Message: "approved", Decision: decision}
	case report.DecisionRejected:
		return report.StageOutcome{Status: report.StatusFailed, Message: "rejected", Decision: decision}
	default:
		return report.StageOutcome{Status: report.StatusSkipped, Message: "approval skipped", Decision: report.DecisionSkipped}
	}
}
