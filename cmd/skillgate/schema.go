package main

import (
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/report"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the verification report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeJSON(cmd.OutOrStdout(), report.Schema())
	},
}
