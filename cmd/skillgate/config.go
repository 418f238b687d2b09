package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/runner"
	"github.com/jingkaihe/skillgate/pkg/service"
)

func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
	viper.SetDefault("timeout", runner.DefaultTimeout)
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("serve.host", "localhost")
	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("watch.debounce", 2*time.Second)
	viper.SetDefault("watch.ignore", []string{"**/.git/**", "**/node_modules/**", "**/.venv/**", "**/target/**", "**/dist/**"})
	viper.SetDefault("tracing.sampler", "ratio")
	viper.SetDefault("tracing.ratio", 1.0)
}

// duration prints as "5m0s" rather than nanoseconds.
type duration time.Duration

func (d duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Settings is the effective configuration, printed by `skillgate config`.
type Settings struct {
	SkillsDir    string   `yaml:"skills_dir,omitempty"`
	KnowledgeDoc string   `yaml:"knowledge_doc,omitempty"`
	Timeout      duration `yaml:"timeout"`
	AutoApprove  bool     `yaml:"auto_approve"`
	History      struct {
		Enabled bool   `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"history"`
	Serve struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"serve"`
	Watch struct {
		Debounce duration `yaml:"debounce"`
		Ignore   []string `yaml:"ignore"`
	} `yaml:"watch"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func loadSettings() (*Settings, error) {
	s := &Settings{
		SkillsDir:    viper.GetString("skills_dir"),
		KnowledgeDoc: viper.GetString("knowledge_doc"),
		Timeout:      duration(viper.GetDuration("timeout")),
		AutoApprove:  viper.GetBool("auto_approve"),
		LogLevel:     viper.GetString("log_level"),
		LogFormat:    viper.GetString("log_format"),
	}
	s.History.Enabled = viper.GetBool("history.enabled")
	s.History.DBPath = viper.GetString("history.db_path")
	if s.History.Enabled && s.History.DBPath == "" {
		path, err := db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		s.History.DBPath = path
	}
	s.Serve.Host = viper.GetString("serve.host")
	s.Serve.Port = viper.GetInt("serve.port")
	s.Watch.Debounce = duration(viper.GetDuration("watch.debounce"))
	s.Watch.Ignore = viper.GetStringSlice("watch.ignore")

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports every invalid setting at once.
func (s *Settings) Validate() error {
	var result *multierror.Error
	if s.Timeout < 0 {
		result = multierror.Append(result, errors.Errorf("timeout cannot be negative: %s", time.Duration(s.Timeout)))
	}
	if s.Watch.Debounce < 0 {
		result = multierror.Append(result, errors.Errorf("watch.debounce cannot be negative: %s", time.Duration(s.Watch.Debounce)))
	}
	switch s.LogFormat {
	case "fmt", "json":
	default:
		result = multierror.Append(result, errors.Errorf("log_format must be fmt or json, got %q", s.LogFormat))
	}
	if s.Serve.Port < 1 || s.Serve.Port > 65535 {
		result = multierror.Append(result, errors.Errorf("serve.port must be between 1 and 65535, got %d", s.Serve.Port))
	}
	return result.ErrorOrNil()
}

// serviceConfig maps settings onto the service layer. withHistory=false
// leaves the history database closed.
func (s *Settings) serviceConfig(withHistory bool) service.Config {
	cfg := service.Config{
		SkillsDir:    s.SkillsDir,
		KnowledgeDoc: s.KnowledgeDoc,
		Timeout:      time.Duration(s.Timeout),
	}
	if withHistory && s.History.Enabled {
		cfg.HistoryPath = s.History.DBPath
	}
	return cfg
}

func openService(ctx context.Context, withHistory bool) (*Settings, *service.Service, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid configuration")
	}
	svc, err := service.New(ctx, settings.serviceConfig(withHistory))
	if err != nil {
		return nil, nil, err
	}
	return settings, svc, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the configuration resolved from flags, SKILLGATE_* environment variables and config.yaml.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to encode configuration")
		}
		if file := viper.ConfigFileUsed(); file != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", file)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}
