package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

func init() {
	// .env in the working directory may carry AUTO_APPROVE and skill settings
	_ = godotenv.Load()

	viper.SetEnvPrefix("SKILLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillgate")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	setDefaults()
}

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Run verification skills against a project and gate them on approval",
	Long: `skillgate discovers executable verification skills, runs them against a project,
aggregates their results into a single report, asks for approval and records approved
runs as lessons in the project's knowledge document.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetLogOutput(os.Stderr)
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return errors.Wrapf(err, "invalid log level %q", viper.GetString("log_level"))
		}
		logger.SetLogFormat(viper.GetString("log_format"))
		presenter.SetQuiet(viper.GetBool("json_only"))

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

// shutdownTracing flushes spans once the command has finished.
var shutdownTracing func(context.Context) error

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	rootCmd.PersistentFlags().String("skills-dir", "", "Directory containing skills (default .skillgate/skills)")
	rootCmd.PersistentFlags().String("knowledge-doc", "", "Knowledge document approved runs are recorded in (default <target>/CLAUDE.md)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Timeout for skills that do not declare one (default 5m)")
	rootCmd.PersistentFlags().String("history-db", "", "Path of the run history database (default ~/.skillgate/history.db)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (json, fmt)")
	rootCmd.PersistentFlags().Bool("json-only", false, "Only print the JSON report on stdout")

	viper.BindPFlag("skills_dir", rootCmd.PersistentFlags().Lookup("skills-dir"))
	viper.BindPFlag("knowledge_doc", rootCmd.PersistentFlags().Lookup("knowledge-doc"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("history.db_path", rootCmd.PersistentFlags().Lookup("history-db"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("json_only", rootCmd.PersistentFlags().Lookup("json-only"))

	rootCmd.AddCommand(withTracing(verifyCmd))
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(stackCmd)
	rootCmd.AddCommand(lessonsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	ctx := context.Background()
	err := rootCmd.ExecuteContext(ctx)

	if shutdownTracing != nil {
		if serr := shutdownTracing(ctx); serr != nil {
			logger.G(ctx).WithError(serr).Warn("failed to flush traces")
		}
	}

	var exit *exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		presenter.Error(err, "skillgate failed")
		os.Exit(1)
	}
}
