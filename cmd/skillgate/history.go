package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/history"
	"github.com/jingkaihe/skillgate/pkg/knowledge"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/service"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past verification runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		target, _ := cmd.Flags().GetString("target")
		asJSON, _ := cmd.Flags().GetBool("json")

		_, svc, err := openService(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer svc.Close()

		runs, err := svc.Runs(cmd.Context(), history.ListOptions{
			Limit:  limit,
			Status: history.Status(status),
			Target: target,
		})
		if errors.Is(err, service.ErrHistoryDisabled) {
			return errors.New("run history is disabled (history.enabled=false)")
		}
		if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		if len(runs) == 0 {
			presenter.Info("no runs recorded")
			return nil
		}
		return writeRunsTable(cmd.OutOrStdout(), runs)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run; a unique id prefix is enough",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		_, svc, err := openService(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer svc.Close()

		run, err := svc.Run(cmd.Context(), args[0])
		if errors.Is(err, service.ErrHistoryDisabled) {
			return errors.New("run history is disabled (history.enabled=false)")
		}
		if err != nil {
			return err
		}

		switch format {
		case "json":
			return writeJSON(cmd.OutOrStdout(), run)
		case "yaml":
			// the report is omitted from yaml, only the run metadata is shown
			out, err := yaml.Marshal(run)
			if err != nil {
				return errors.Wrap(err, "failed to encode run")
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		default:
			return errors.Errorf("unknown format %q, expected json or yaml", format)
		}
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	historyListCmd.Flags().String("status", "", "Only show runs with this status (running, finished, interrupted, error, abandoned)")
	historyListCmd.Flags().String("target", "", "Only show runs against this target")
	historyListCmd.Flags().Bool("json", false, "Output as JSON")

	historyShowCmd.Flags().String("format", "json", "Output format (json, yaml)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}

func writeRunsTable(w io.Writer, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tDECISION\tEXIT\tTARGET")
	for _, r := range runs {
		decision := string(r.Decision)
		if decision == "" {
			decision = "-"
		}
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			knowledge.ShortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status, decision, exit, r.Target)
	}
	return tw.Flush()
}
