package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/planner"
	"github.com/converge-sh/converge/internal/spec"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the actions apply would perform, without executing them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := spec.LoadFile(specPath)
		if err != nil {
			return err
		}
		probes, _, _, err := hostProbes()
		if err != nil {
			return err
		}
		drifts := newDetector(probes).Detect(ctx, s)

		plan, err := planner.Build(s, drifts)
		if err != nil {
			return err
		}

		if jsonOutput {
			type planAction struct {
				Rank   int    `json:"rank"`
				Unit   string `json:"unit"`
				Kind   string `json:"kind"`
				Op     string `json:"op"`
				Reason string `json:"reason,omitempty"`
			}
			out := struct {
				Spec    string       `json:"spec"`
				Actions []planAction `json:"actions"`
				Unknown []string     `json:"unknown_units,omitempty"`
			}{Spec: s.Name, Unknown: plan.Unknown}
			for _, a := range plan.Actions {
				out.Actions = append(out.Actions, planAction{
					Rank: a.Rank, Unit: a.Unit.Name, Kind: string(a.Unit.Kind),
					Op: string(a.Op), Reason: a.Reason,
				})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		if plan.Empty() {
			fmt.Println("Nothing to do: host matches the desired state.")
		} else {
			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tUNIT\tKIND\tOP\tREASON")
			for _, a := range plan.Actions {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.Rank, a.Unit.Name, a.Unit.Kind, a.Op, a.Reason)
			}
			tw.Flush()
		}
		for _, u := range plan.Unknown {
			fmt.Printf("warning: drift unknown for %s (probe failed)\n", u)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
