package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the discovered skills",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		_, svc, err := openService(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer svc.Close()

		descs, err := svc.Skills(cmd.Context())
		if errors.Is(err, skills.ErrRegistryUnavailable) {
			presenter.Warning(fmt.Sprintf("no skills found under %s", svc.SkillsRoot()))
			descs = nil
		} else if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), descs)
		}
		if len(descs) == 0 {
			presenter.Info("no skills discovered")
			return nil
		}
		return writeSkillsTable(cmd.OutOrStdout(), descs)
	},
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill descriptor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svc, err := openService(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer svc.Close()

		desc, err := svc.Skill(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			skills.Descriptor
			Category skills.Category `json:"category"`
			Requires []string        `json:"requires,omitempty"`
		}{desc, desc.Category(), desc.Requires()})
	},
}

var skillsInstructionsCmd = &cobra.Command{
	Use:   "instructions <name>",
	Short: "Print a skill's SKILL.md instructions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svc, err := openService(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer svc.Close()

		text, err := svc.Instructions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	skillsListCmd.Flags().Bool("json", false, "Output as JSON")

	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
	skillsCmd.AddCommand(skillsInstructionsCmd)
}

func writeSkillsTable(w io.Writer, descs []skills.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tREQUIRES\tDESCRIPTION")
	for _, d := range descs {
		requires := "-"
		if r := d.Requires(); len(r) > 0 {
			requires = fmt.Sprint(r)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Category(), requires, d.Manifest.Description)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	fmt.Fprintln(w, string(data))
	return nil
}
