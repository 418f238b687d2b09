package main

import (
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/stack"
)

var stackCmd = &cobra.Command{
	Use:   "stack [dir]",
	Short: "Detect the technology stack of a project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		info := stack.Detect(dir)
		return writeJSON(cmd.OutOrStdout(), info)
	},
}
