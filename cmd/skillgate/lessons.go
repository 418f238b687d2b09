package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/knowledge"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "List the lessons recorded in the knowledge document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		target, _ := cmd.Flags().GetString("target")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		_, svc, err := openService(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer svc.Close()

		lessons, err := svc.Lessons(target)
		if err != nil {
			return err
		}
		if limit > 0 && len(lessons) > limit {
			lessons = lessons[:limit]
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), lessons)
		}
		if len(lessons) == 0 {
			presenter.Info("no lessons recorded in " + svc.KnowledgeDoc(target))
			return nil
		}
		return writeLessonsTable(cmd.OutOrStdout(), lessons)
	},
}

func init() {
	lessonsCmd.Flags().String("target", ".", "Project whose knowledge document is read")
	lessonsCmd.Flags().Int("limit", 0, "Maximum number of lessons to show (0 for all)")
	lessonsCmd.Flags().Bool("json", false, "Output as JSON")
}

func writeLessonsTable(w io.Writer, lessons []knowledge.Lesson) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTITLE\tITEMS")
	for _, l := range lessons {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", l.Date.Format("2006-01-02"), l.Title, len(l.Items))
	}
	return tw.Flush()
}
