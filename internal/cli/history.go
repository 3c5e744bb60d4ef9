package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/history"
	"github.com/converge-sh/converge/internal/report"
)

var historyRun string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past reconciliation runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := history.Open(ctx, filepath.Join(cfg.StateDir, "history.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		if historyRun != "" {
			rep, err := store.Get(ctx, historyRun)
			if err != nil {
				return err
			}
			return rep.WriteJSON(os.Stdout)
		}

		entries, err := store.List(ctx, cfg.HistoryLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSPEC\tSTARTED\tDURATION\tAPPLIED\tFAILED\tSKIPPED\tROLLED BACK\tRESULT")
		for _, e := range entries {
			result := "drifted"
			if e.Converged {
				result = "converged"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				e.RunID, e.Spec,
				e.Started.Format("2006-01-02 15:04:05"),
				report.FormatDuration(e.Finished.Sub(e.Started)),
				e.Applied, e.Failed, e.Skipped, e.RolledBack, result)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Print the full JSON report of one run ID")
	rootCmd.AddCommand(historyCmd)
}
