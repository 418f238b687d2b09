package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info, err := version.Get().JSON()
		if err != nil {
			presenter.Error(err, "Failed to get version information")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), info)
	},
}
