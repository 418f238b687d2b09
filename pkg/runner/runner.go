// Package runner executes one skill unit as a subprocess and classifies its
// outcome.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/osutil"
	"github.com/jingkaihe/skillgate/pkg/skills"
)

// DefaultTimeout applies to skills that do not declare their own.
const DefaultTimeout = 5 * time.Minute

// stderrTail bounds how much stderr is quoted in failure messages.
const stderrTail = 20

// Reason explains why a run did not succeed.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonStart    Reason = "start_failed"
	ReasonExit     Reason = "exit_error"
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
)

// Result is the outcome of running one skill once. It is never mutated after
// Run returns.
type Result struct {
	SkillName string
	// Success is true when the process ran to completion and either exited 0
	// or printed a parsable payload alongside a non-zero exit code.
	Success bool
	// RawOutput holds stdout and stderr in the order they were written.
	RawOutput string
	Stdout    string
	Stderr    string
	Payload   map[string]any
	ExitCode  int
	Reason    Reason
	Message   string
	Duration  time.Duration
}

// HasPayload reports whether a JSON payload was extracted.
func (r Result) HasPayload() bool {
	return r.Payload != nil
}

// Executor is the narrow interface the orchestrator depends on.
type Executor interface {
	Run(ctx context.Context, desc skills.Descriptor, targetPath string, extraArgs ...string) Result
}

// Runner runs skills with a per-skill timeout.
type Runner struct {
	timeout time.Duration
	env     []string
}

// Option configures a Runner
type Option func(*Runner)

// WithTimeout sets the timeout for skills that do not declare one
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithEnv adds KEY=VALUE pairs to every skill's environment
func WithEnv(env ...string) Option {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// New creates a Runner
func New(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the skill's entry point with targetPath, the manifest args and
// extraArgs as positional arguments.
func (r *Runner) Run(ctx context.Context, desc skills.Descriptor, targetPath string, extraArgs ...string) Result {
	result := Result{SkillName: desc.Name, ExitCode: -1}

	timeout := desc.Timeout()
	if timeout == 0 {
		timeout = r.timeout
	}

	manifestArgs, err := desc.Args()
	if err != nil {
		result.Reason = ReasonStart
		result.Message = err.Error()
		return result
	}
	var args []string
	if targetPath != "" {
		args = append(args, targetPath)
	}
	args = append(args, manifestArgs...)
	args = append(args, extraArgs...)

	log := logger.G(ctx).WithFields(logrus.Fields{
		"skill":   desc.Name,
		"command": shellquote.Join(append([]string{desc.EntryPath}, args...)...),
		"timeout": timeout.String(),
	})

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, desc.EntryPath, args...)
	cmd.Dir = desc.Dir
	cmd.Env = append(os.Environ(), r.env...)
	cmd.Env = append(cmd.Env,
		"SKILLGATE_SKILL="+desc.Name,
		"SKILLGATE_TARGET="+targetPath,
	)
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)

	var (
		stdout, stderr bytes.Buffer
		combined       syncBuffer
	)
	cmd.Stdout = io.MultiWriter(&stdout, &combined)
	cmd.Stderr = io.MultiWriter(&stderr, &combined)

	log.Debug("running skill")
	start := time.Now()
	runErr := cmd.Run()
	result.Duration = time.Since(start)
	result.RawOutput = combined.String()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case runErr == nil:
		result.ExitCode = 0
		result.Success = true
		result.Payload, _ = r.extract(ctx, result)
		result.Message = fmt.Sprintf("skill %s completed", desc.Name)

	case ctx.Err() != nil:
		result.Reason = ReasonCanceled
		result.Message = fmt.Sprintf("skill %s was canceled", desc.Name)

	case runCtx.Err() == context.DeadlineExceeded:
		result.Reason = ReasonTimeout
		result.Message = fmt.Sprintf("skill %s timed out after %s", desc.Name, timeout)

	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			result.Reason = ReasonStart
			result.Message = errors.Wrapf(runErr, "failed to start skill %s", desc.Name).Error()
			break
		}
		result.ExitCode = exitErr.ExitCode()
		if payload, ok := r.extract(ctx, result); ok {
			result.Success = true
			result.Payload = payload
			result.Message = fmt.Sprintf("skill %s exited with code %d", desc.Name, result.ExitCode)
			break
		}
		result.Reason = ReasonExit
		result.Message = fmt.Sprintf("skill %s exited with code %d without a JSON payload", desc.Name, result.ExitCode)
		if tail := lastLines(result.Stderr, stderrTail); tail != "" {
			result.Message += ": " + tail
		}
	}

	if result.Success && ctx.Err() != nil {
		result.Success = false
		result.Payload = nil
		result.Reason = ReasonCanceled
		result.Message = fmt.Sprintf("skill %s was canceled", desc.Name)
	}

	entry := log.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"success":   result.Success,
		"duration":  result.Duration.String(),
	})
	if result.HasPayload() {
		entry = entry.WithField("payload", compact(result.Payload))
	}
	if result.Success {
		entry.Debug("skill finished")
	} else {
		entry.WithField("reason", result.Reason).Warn(result.Message)
	}
	return result
}

// extract looks for the payload on stdout first so stderr noise cannot split
// it, then in the combined output for skills that report on stderr.
func (r *Runner) extract(ctx context.Context, result Result) (map[string]any, bool) {
	if payload, ok := ExtractContext(ctx, result.Stdout); ok {
		return payload, true
	}
	if result.Stderr == "" {
		return nil, false
	}
	return ExtractContext(ctx, result.RawOutput)
}

// syncBuffer is a bytes.Buffer shared by the stdout and stderr copiers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
