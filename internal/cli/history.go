package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/pipeline"
)

func writeHistory(w io.Writer, runs []pipeline.StageRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTAGE\tSTATUS\tDURATION\tFETCHED\tWRITTEN\tREJECTED\tNOTE")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Format(time.DateTime), r.Stage, r.Status, duration,
			r.Fetched, r.Written, r.Rejected, truncate(r.Error, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
