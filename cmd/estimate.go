package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/merchant-enrich/internal/compose"
	"github.com/sells-group/merchant-enrich/internal/cost"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

var (
	estimateInput string
	estimateSheet string
	estimateStart int
	estimateEnd   int
	estimateMode  string
	estimateRows  int
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the provider cost of an enrichment run",
	RunE: func(cmd *cobra.Command, args []string) error {
		modeName := estimateMode
		if modeName == "" {
			modeName = cfg.Job.Mode
		}
		mode, err := model.ParseMode(modeName)
		if err != nil {
			return err
		}

		rows := estimateRows
		if estimateInput != "" {
			table, err := sheet.ReadTable(estimateInput, sheet.Options{SheetName: estimateSheet})
			if err != nil {
				return err
			}
			rows = rangeRows(len(table.Rows), estimateStart, estimateEnd)
		}

		aiModel := cfg.AIModel()
		total := cfg.Pricing.Estimate(rows, mode, aiModel)
		budget := cfg.Job.BudgetPerRow

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Rows:            %d\n", rows)
		fmt.Fprintf(out, "Mode:            %s\n", mode)
		if aiModel != "" {
			fmt.Fprintf(out, "AI model:        %s\n", aiModel)
		}
		fmt.Fprintf(out, "Estimated total: $%s\n", compose.FormatCost(total))
		if rows > 0 {
			fmt.Fprintf(out, "Per row:         $%s (budget $%s)\n", compose.FormatCost(total/float64(rows)), compose.FormatCost(budget))
		}
		if !cost.WithinBudget(total, rows, budget) {
			fmt.Fprintln(out, "Warning: the estimate exceeds the per-row budget; the run will pause for confirmation.")
		}
		return nil
	},
}

// rangeRows clamps a 1-based row range to n data rows and returns its size.
// Zero bounds mean the first and last row.
func rangeRows(n, start, end int) int {
	if start < 1 {
		start = 1
	}
	if end == 0 || end > n {
		end = n
	}
	if end < start {
		return 0
	}
	return end - start + 1
}

func init() {
	f := estimateCmd.Flags()
	f.StringVar(&estimateInput, "input", "", "input XLSX or CSV file")
	f.StringVar(&estimateSheet, "sheet", "", "XLSX sheet name")
	f.IntVar(&estimateStart, "start", 1, "first data row")
	f.IntVar(&estimateEnd, "end", 0, "last data row (default last row)")
	f.IntVar(&estimateRows, "rows", 0, "row count when no input file is given")
	f.StringVar(&estimateMode, "mode", "", "basic or enhanced (default from config)")
	rootCmd.AddCommand(estimateCmd)
}
