package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

func newRunsCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent audit runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			runs, err := rt.app.Runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTATUS\tSTARTED\tDURATION\tSITES\tFILES\tPERMISSIONS\tERRORS")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					run.RunID, run.Status,
					run.StartTime.Format(time.RFC3339),
					runDuration(run),
					run.TotalSites, run.TotalFiles, run.TotalPermissions, run.ErrorCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func runDuration(run domain.RunMetadata) string {
	if run.EndTime == nil {
		return "-"
	}
	return run.EndTime.Sub(run.StartTime).Round(time.Second).String()
}
