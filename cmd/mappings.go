package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage saved column mapping presets",
}

var mappingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved presets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		names, err := sheet.ListMappings(cfg.Job.MappingDir)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var mappingsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a saved preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := sheet.LoadMapping(cfg.Job.MappingDir, args[0])
		if err != nil {
			return err
		}
		formatMapping(cmd, m)
		return nil
	},
}

var mappingsGuessCmd = &cobra.Command{
	Use:   "guess <input>",
	Short: "Propose a mapping from an input file's header",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := sheet.ReadTable(args[0], sheet.Options{})
		if err != nil {
			return err
		}
		formatMapping(cmd, sheet.GuessMapping(table.Header))
		return nil
	},
}

func formatMapping(cmd *cobra.Command, m model.ColumnMapping) {
	out := cmd.OutOrStdout()
	for _, f := range []struct{ name, col string }{
		{"merchant", m.Merchant},
		{"address", m.Address},
		{"city", m.City},
		{"country", m.Country},
		{"state", m.State},
	} {
		col := f.col
		if col == "" {
			col = "-"
		}
		fmt.Fprintf(out, "%-9s %s\n", f.name+":", col)
	}
}

func init() {
	mappingsCmd.AddCommand(mappingsListCmd, mappingsShowCmd, mappingsGuessCmd)
	rootCmd.AddCommand(mappingsCmd)
}
