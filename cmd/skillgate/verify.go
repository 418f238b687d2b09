package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/orchestrator"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/service"
	"github.com/jingkaihe/skillgate/pkg/tui"
)

// exitInterrupted is the conventional exit code after SIGINT.
const exitInterrupted = 130

// VerifyConfig holds configuration for the verify command
type VerifyConfig struct {
	AutoApprove bool
	TUI         bool
	Skills      []string
	SkillArgs   []string
	DryRun      bool
	NoHistory   bool
}

// NewVerifyConfig creates a new VerifyConfig with default values
func NewVerifyConfig() *VerifyConfig {
	return &VerifyConfig{}
}

var verifyCmd = &cobra.Command{
	Use:     "verify [dir]",
	Aliases: []string{"run"},
	Short:   "Verify a project with every applicable skill",
	Long: `Run the discovered skills against a project directory (default: the current
directory), print a summary, ask for approval and record approved runs in the
knowledge document. The full JSON report is always printed on stdout.

Exit codes: 0 when approved with no security failure, 1 otherwise, 130 when interrupted.
Set AUTO_APPROVE=true (or pass --auto-approve) to skip the prompt in CI.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		return runVerify(cmd.Context(), target, getVerifyConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewVerifyConfig()
	verifyCmd.Flags().Bool("auto-approve", defaults.AutoApprove, "Approve without prompting")
	verifyCmd.Flags().Bool("tui", defaults.TUI, "Use the interactive terminal UI for approval")
	verifyCmd.Flags().StringSlice("skills", defaults.Skills, "Glob patterns selecting the skills to run, e.g. 'sec*,log-*'")
	verifyCmd.Flags().StringArray("skill-arg", defaults.SkillArgs, "Extra arguments for a skill as name=args, e.g. log-analyzer='--since 1h'")
	verifyCmd.Flags().Bool("dry-run", defaults.DryRun, "Show the knowledge document change instead of writing it")
	verifyCmd.Flags().Bool("no-history", defaults.NoHistory, "Do not record the run in the history database")

	viper.BindPFlag("auto_approve", verifyCmd.Flags().Lookup("auto-approve"))
}

func getVerifyConfigFromFlags(cmd *cobra.Command) *VerifyConfig {
	config := NewVerifyConfig()
	config.AutoApprove = viper.GetBool("auto_approve")

	if tui, err := cmd.Flags().GetBool("tui"); err == nil {
		config.TUI = tui
	}
	if skills, err := cmd.Flags().GetStringSlice("skills"); err == nil {
		config.Skills = skills
	}
	if skillArgs, err := cmd.Flags().GetStringArray("skill-arg"); err == nil {
		config.SkillArgs = skillArgs
	}
	if dryRun, err := cmd.Flags().GetBool("dry-run"); err == nil {
		config.DryRun = dryRun
	}
	if noHistory, err := cmd.Flags().GetBool("no-history"); err == nil {
		config.NoHistory = noHistory
	}
	return config
}

// parseSkillArgs turns name=args flags into per-skill argument lists.
func parseSkillArgs(values []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, v := range values {
		name, raw, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("invalid --skill-arg %q, expected name=args", v)
		}
		args, err := shellquote.Split(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid --skill-arg %q", v)
		}
		out[name] = append(out[name], args...)
	}
	return out, nil
}

func approverFor(config *VerifyConfig) approval.Provider {
	if config.AutoApprove {
		return approval.Auto{Source: "--auto-approve"}
	}
	var fallback approval.Provider = approval.NewTerminal(presenter.Default())
	if config.TUI {
		fallback = tui.NewProvider()
	}
	return approval.FromEnv(fallback)
}

func runVerify(ctx context.Context, target string, config *VerifyConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	skillArgs, err := parseSkillArgs(config.SkillArgs)
	if err != nil {
		return err
	}

	_, svc, err := openService(ctx, !config.NoHistory)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !presenter.IsQuiet() {
		presenter.Section("Verifying " + target)
	}

	r, err := svc.Verify(ctx, target, service.VerifyOptions{
		Approver:  approverFor(config),
		Patterns:  config.Skills,
		SkillArgs: skillArgs,
		Observers: []orchestrator.Observer{printStage},
		Record:    true,
		DryRun:    config.DryRun,
		Preview:   printPreview,
	})
	if r != nil {
		if perr := printReport(r); perr != nil {
			logger.G(ctx).WithError(perr).Error("failed to print report")
		}
	}

	switch {
	case errors.Is(err, orchestrator.ErrInterrupted):
		presenter.Warning("verification interrupted, nothing was recorded")
		return &exitError{code: exitInterrupted}
	case err != nil:
		presenter.Error(err, "verification failed")
		return &exitError{code: 1}
	}

	if r.SecurityFailed() && r.Decision() == report.DecisionApproved {
		presenter.Warning("approved, but a security stage failed: exiting with status 1")
	}
	if code := r.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	presenter.Success("verification approved")
	return nil
}

func printStage(s report.Stage) {
	if s.Name == report.StageApprove && s.Status == report.StatusPending {
		return
	}
	presenter.Stage(s.Name, string(s.Status), s.Message)
}

func printPreview(diff string) {
	if diff == "" {
		presenter.Info("knowledge document would not change")
		return
	}
	presenter.Section("Knowledge document (dry run)")
	fmt.Fprint(os.Stderr, diff)
}

func printReport(r *report.VerificationReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	fmt.Println(string(data))
	return nil
}
