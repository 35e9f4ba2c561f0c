package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/app"
)

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List configured probes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		reg, err := app.BuildRegistry(cfg)
		if err != nil {
			return err
		}

		st := newStyles()
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(st.Dim).
			Headers("PROBE", "SEVERITY", "SCHEDULE", "PREDICATE", "NOTIFY", "SOURCE")
		for p := range reg.List() {
			pred := p.Predicate
			if p.PredicateErr() != nil {
				pred = st.Failed.Render(pred + " (invalid)")
			}
			notify := strings.Join(p.Notify, ",")
			if notify == "" {
				notify = "all"
			}
			t.Row(p.Name, st.severity(p.Severity), p.Trigger(), pred, notify, p.Source)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probesCmd)
}
