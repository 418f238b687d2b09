package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/api"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start a local HTTP server exposing skills, stack detection, lessons and run
history as JSON, and accepting verification runs with POST /api/runs. Runs started
over HTTP are approved automatically; only one runs at a time.

The server will be available at http://localhost:8080 by default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := &ServeConfig{
			Host: viper.GetString("serve.host"),
			Port: viper.GetInt("serve.port"),
		}
		return runServeCommand(cmd.Context(), config)
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "Host to bind the API server to")
	serveCmd.Flags().Int("port", 8080, "Port to bind the API server to")

	viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}

// validateServeConfig validates the serve configuration
func validateServeConfig(ctx context.Context, config *ServeConfig) error {
	if config.Host == "" {
		return errors.New("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return errors.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(ctx).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}
	return nil
}

func runServeCommand(ctx context.Context, config *ServeConfig) error {
	if err := validateServeConfig(ctx, config); err != nil {
		return errors.Wrap(err, "invalid server configuration")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, svc, err := openService(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			logger.G(ctx).WithError(closeErr).Error("failed to close service")
		}
	}()

	server, err := api.NewServer(&api.ServerConfig{Host: config.Host, Port: config.Port}, svc)
	if err != nil {
		return err
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"host":   config.Host,
		"port":   config.Port,
		"skills": svc.SkillsRoot(),
	}).Info("starting API server")
	presenter.Info("Press Ctrl+C to stop the server")

	if err := server.Start(ctx); err != nil {
		return errors.Wrap(err, "API server failed")
	}
	presenter.Info(fmt.Sprintf("API server on %s:%d stopped", config.Host, config.Port))
	return nil
}
