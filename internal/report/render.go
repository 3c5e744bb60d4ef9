package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteJSON renders the report as one JSON document.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteTable renders the human-readable summary: one row per action,
// then drift counts and the converged verdict.
func (r *Report) WriteTable(w io.Writer) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	if len(r.Actions) == 0 {
		fmt.Fprintln(w, "No actions: host already converged.")
	} else {
		fmt.Fprintln(tw, "UNIT\tKIND\tOP\tOUTCOME\tDETAIL")
		for _, a := range r.Actions {
			detail := a.Reason
			if a.Error != "" {
				detail = a.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Unit, a.Kind, a.Op, a.Outcome, detail)
		}
		tw.Flush()
	}

	for _, u := range r.Unknown {
		fmt.Fprintf(w, "warning: drift unknown for %s (probe failed)\n", u)
	}

	verdict := "NOT CONVERGED"
	if r.Converged {
		verdict = "converged"
	}
	fmt.Fprintf(w, "\nrun %s: %d applied, %d failed, %d skipped, %d rolled back (%s in %s)\n",
		r.RunID,
		r.Count(Applied), r.Count(Failed), r.Count(Skipped), r.Count(RolledBack),
		verdict, FormatDuration(r.Finished.Sub(r.Started)))
}

// FormatDuration renders a duration as 1d2h30m15.50s, dropping leading
// zero components.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := d.Seconds()
	days := int(secs) / 86400
	hours := (int(secs) % 86400) / 3600
	mins := (int(secs) % 3600) / 60
	rem := secs - float64(days*86400+hours*3600+mins*60)

	out := ""
	if days > 0 {
		out += fmt.Sprintf("%dd", days)
	}
	if hours > 0 {
		out += fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		out += fmt.Sprintf("%dm", mins)
	}
	return out + fmt.Sprintf("%.2fs", rem)
}
