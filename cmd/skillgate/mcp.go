package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/mcp"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve skillgate as an MCP server over stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout so that coding agents can
list skills, detect stacks, read lessons and start auto-approved verification runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// stdout carries the protocol
		logger.SetLogOutput(os.Stderr)
		presenter.SetQuiet(true)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		_, svc, err := openService(ctx, true)
		if err != nil {
			return err
		}
		defer svc.Close()

		logger.G(ctx).WithField("skills", svc.SkillsRoot()).Info("serving MCP over stdio")
		return mcp.Serve(ctx, mcp.NewServer(svc), os.Stdin, os.Stdout)
	},
}
