package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/spec"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report drift between the desired state and the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := spec.LoadFile(specPath)
		if err != nil {
			return err
		}
		probes, _, _, err := hostProbes()
		if err != nil {
			return err
		}
		drifts := newDetector(probes).Detect(cmd.Context(), s)

		if jsonOutput {
			type row struct {
				Unit   string `json:"unit"`
				Kind   string `json:"kind"`
				Status string `json:"status"`
				Detail string `json:"detail,omitempty"`
			}
			var rows []row
			for _, d := range drifts {
				rows = append(rows, row{d.Unit.Name, string(d.Unit.Kind), string(d.Status), d.Detail})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "UNIT\tKIND\tSTATUS\tDETAIL")
		drifted := 0
		for _, d := range drifts {
			if d.Drifted() {
				drifted++
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Unit.Name, d.Unit.Kind, d.Status, d.Detail)
		}
		tw.Flush()
		if drifted == 0 {
			fmt.Println("\nHost matches the desired state.")
		} else {
			fmt.Printf("\n%d unit(s) drifted. Run `converge plan` to see the actions.\n", drifted)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
