// Package service ties the registry, runner, knowledge persister and run
// history together. The CLI, the HTTP API, the MCP server and the watcher all
// go through it.
package service

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/history"
	"github.com/jingkaihe/skillgate/pkg/knowledge"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/orchestrator"
	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/runner"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/stack"
)

// DefaultKnowledgeDoc is looked up in the target directory when no knowledge
// document is configured.
const DefaultKnowledgeDoc = "CLAUDE.md"

// ErrHistoryDisabled is returned by history queries when no history database
// is configured.
var ErrHistoryDisabled = errors.New("run history is disabled")

// Config holds the settings shared by every entry point.
type Config struct {
	SkillsDir    string
	KnowledgeDoc string
	Timeout      time.Duration
	// HistoryPath is the SQLite file runs are recorded in. Empty disables
	// history.
	HistoryPath string
	// Env is added to every skill's environment.
	Env []string
}

// Service is safe for concurrent use.
type Service struct {
	cfg       Config
	registry  *skills.Registry
	executor  runner.Executor
	persister *knowledge.Persister
	history   *history.Store
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithExecutor replaces the subprocess runner
func WithExecutor(e runner.Executor) Option {
	return func(s *Service) { s.executor = e }
}

// WithPersister replaces the knowledge persister
func WithPersister(p *knowledge.Persister) Option {
	return func(s *Service) { s.persister = p }
}

// New opens everything cfg points at. Runs left behind by dead processes are
// marked abandoned.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	var registryOpts []skills.Option
	if cfg.SkillsDir != "" {
		registryOpts = append(registryOpts, skills.WithRoot(cfg.SkillsDir))
	}
	registry, err := skills.NewRegistry(registryOpts...)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		registry:  registry,
		executor:  runner.New(runner.WithTimeout(cfg.Timeout), runner.WithEnv(cfg.Env...)),
		persister: knowledge.NewPersister(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.HistoryPath != "" {
		store, err := history.Open(ctx, cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		if _, err := store.MarkAbandoned(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to check for abandoned runs")
		}
		s.history = store
	}
	return s, nil
}

// Close releases the history database
func (s *Service) Close() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}

// SkillsRoot returns the absolute skills directory
func (s *Service) SkillsRoot() string {
	return s.registry.Root()
}

// Skills lists the discovered skills. A missing skills directory yields an
// empty list and an error wrapping skills.ErrRegistryUnavailable.
func (s *Service) Skills(ctx context.Context) ([]skills.Descriptor, error) {
	return s.registry.Discover(ctx)
}

// Skill returns one skill by name
func (s *Service) Skill(ctx context.Context, name string) (skills.Descriptor, error) {
	return s.registry.Get(ctx, name)
}

// Instructions returns the instructions document of the named skill
func (s *Service) Instructions(ctx context.Context, name string) (string, error) {
	desc, err := s.registry.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return skills.Instructions(desc)
}

// DetectStack detects the stack of dir, defaulting to the working directory.
func (s *Service) DetectStack(dir string) (stack.Info, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return stack.Info{}, errors.Wrapf(err, "failed to resolve %s", dir)
	}
	return stack.Detect(abs), nil
}

// KnowledgeDoc returns the knowledge document used for runs against target.
func (s *Service) KnowledgeDoc(target string) string {
	if s.cfg.KnowledgeDoc != "" {
		return s.cfg.KnowledgeDoc
	}
	if target == "" {
		target = "."
	}
	return filepath.Join(target, DefaultKnowledgeDoc)
}

// Lessons lists the lessons recorded in the knowledge document of target.
func (s *Service) Lessons(target string) ([]knowledge.Lesson, error) {
	return knowledge.ListLessons(s.KnowledgeDoc(target))
}

// Runs lists recorded runs
func (s *Service) Runs(ctx context.Context, opts history.ListOptions) ([]history.Run, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, opts)
}

// Run returns a recorded run by id or unique id prefix
func (s *Service) Run(ctx context.Context, id string) (history.Run, error) {
	if s.history == nil {
		return history.Run{}, ErrHistoryDisabled
	}
	return s.history.Get(ctx, id)
}

// VerifyOptions tunes a single verification run.
type VerifyOptions struct {
	// Approver decides the approve stage. Required.
	Approver  approval.Provider
	Patterns  []string
	SkillArgs map[string][]string
	Observers []orchestrator.Observer
	// Record appends approved runs to the knowledge document.
	Record bool
	// DryRun computes the knowledge document change of an approved run
	// without writing it and hands the diff to Preview.
	DryRun  bool
	Preview func(diff string)
}

// Verify runs the verification pipeline against target and records the run
// in the history database when one is configured.
func (s *Service) Verify(ctx context.Context, target string, opts VerifyOptions) (*report.VerificationReport, error) {
	if opts.Approver == nil {
		return nil, errors.New("verification requires an approval provider")
	}
	if target == "" {
		target = "."
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve target %s", target)
	}

	runID := uuid.NewString()
	pipelineOpts := []orchestrator.Option{
		orchestrator.WithRegistry(s.registry),
		orchestrator.WithExecutor(s.executor),
		orchestrator.WithApprover(opts.Approver),
		orchestrator.WithClock(s.now, func() string { return runID }),
		orchestrator.WithSkillPatterns(opts.Patterns...),
	}
	for name, args := range opts.SkillArgs {
		pipelineOpts = append(pipelineOpts, orchestrator.WithSkillArgs(name, args...))
	}
	for _, o := range opts.Observers {
		pipelineOpts = append(pipelineOpts, orchestrator.WithObserver(o))
	}
	if recorder := s.recorder(abs, opts); recorder != nil {
		pipelineOpts = append(pipelineOpts, orchestrator.WithRecorder(recorder))
	}

	pipeline, err := orchestrator.New(pipelineOpts...)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if err := s.history.Start(ctx, runID, abs, s.now()); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to record run start")
		}
	}

	r, runErr := pipeline.Run(ctx, abs)
	s.finish(ctx, runID, r, runErr)
	return r, runErr
}

func (s *Service) recorder(target string, opts VerifyOptions) orchestrator.Recorder {
	doc := s.KnowledgeDoc(target)
	switch {
	case opts.DryRun:
		return orchestrator.RecorderFunc(func(_ context.Context, r *report.VerificationReport) error {
			diff, err := s.persister.Preview(r, doc)
			if err != nil {
				return err
			}
			if opts.Preview != nil {
				opts.Preview(diff)
			}
			return nil
		})
	case opts.Record:
		return orchestrator.RecorderFunc(func(ctx context.Context, r *report.VerificationReport) error {
			return s.persister.RecordApprovedRun(ctx, r, doc)
		})
	default:
		return nil
	}
}

// finish closes the history row of a run. It runs even when ctx has been
// cancelled.
func (s *Service) finish(ctx context.Context, runID string, r *report.VerificationReport, runErr error) {
	if s.history == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	finishedAt := s.now()

	var err error
	switch {
	case r == nil:
		err = s.history.Abort(ctx, runID, history.StatusError, finishedAt)
	case errors.Is(runErr, orchestrator.ErrInterrupted):
		err = s.history.Finish(ctx, r, history.StatusInterrupted, finishedAt)
	case runErr != nil:
		err = s.history.Finish(ctx, r, history.StatusError, finishedAt)
	default:
		err = s.history.Finish(ctx, r, history.StatusFinished, finishedAt)
	}
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record run end")
	}
}
