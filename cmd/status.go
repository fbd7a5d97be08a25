package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/merchant-enrich/internal/compose"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/store"
)

var statusDelete bool

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show stored job checkpoints",
	Long:  "Lists every stored checkpoint, or shows one job in detail. With --delete the job's checkpoint is removed so the next run starts fresh.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if len(args) == 0 {
			cps, err := st.List(ctx)
			if err != nil {
				return eris.Wrap(err, "status list")
			}
			if len(cps) == 0 {
				fmt.Fprintln(os.Stderr, "No checkpoints found.")
				return nil
			}
			formatCheckpointList(cmd.OutOrStdout(), cps)
			return nil
		}

		cp, err := store.FindJob(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "status find")
		}
		if cp == nil {
			return eris.Errorf("no checkpoint for job %s", args[0])
		}
		if statusDelete {
			if err := st.Delete(ctx, cp.Settings.Key()); err != nil {
				return eris.Wrap(err, "status delete")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted checkpoint for job %s.\n", cp.JobID)
			return nil
		}
		formatCheckpoint(cmd.OutOrStdout(), cp)
		return nil
	},
}

func formatCheckpointList(w io.Writer, cps []*model.Checkpoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tINPUT\tRANGE\tLAST ROW\tDONE\tCOST\tUPDATED")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%d\t%d/%d\t$%s\t%s\n",
			cp.JobID,
			filepath.Base(cp.Settings.InputPath),
			cp.Settings.StartRow, cp.Settings.EndRow,
			cp.LastRow,
			cp.Completed(), cp.Settings.RowCount(),
			compose.FormatCost(cp.CumulativeCost),
			cp.UpdatedAt.Format(time.RFC3339),
		)
	}
	_ = tw.Flush()
}

func formatCheckpoint(w io.Writer, cp *model.Checkpoint) {
	s := cp.Settings
	found := 0
	for _, rec := range cp.Records {
		if rec.Status == model.StatusCompleted {
			found++
		}
	}
	fmt.Fprintf(w, "Job:        %s\n", cp.JobID)
	fmt.Fprintf(w, "Input:      %s\n", s.InputPath)
	if s.OutputPath != "" {
		fmt.Fprintf(w, "Output:     %s\n", s.OutputPath)
	}
	fmt.Fprintf(w, "Range:      %d-%d (%d rows)\n", s.StartRow, s.EndRow, s.RowCount())
	fmt.Fprintf(w, "Mode:       %s\n", s.Mode)
	fmt.Fprintf(w, "Merchant:   %s\n", s.Mapping.Merchant)
	fmt.Fprintf(w, "Last row:   %d (%d remaining)\n", cp.LastRow, cp.Remaining())
	fmt.Fprintf(w, "Completed:  %d (found %d, not found %d)\n", cp.Completed(), found, cp.Completed()-found)
	fmt.Fprintf(w, "Cost:       $%s", compose.FormatCost(cp.CumulativeCost))
	if n := cp.Completed(); n > 0 {
		fmt.Fprintf(w, " ($%s per row, budget $%s)", compose.FormatCost(cp.CumulativeCost/float64(n)), compose.FormatCost(s.BudgetPerRow))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Updated:    %s\n", cp.UpdatedAt.Format(time.RFC3339))
}

func init() {
	statusCmd.Flags().BoolVar(&statusDelete, "delete", false, "delete the job's checkpoint")
	rootCmd.AddCommand(statusCmd)
}
