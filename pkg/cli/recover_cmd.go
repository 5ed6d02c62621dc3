package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

func newRecoverCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resume the most recent failed or partial run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			run, err := rt.app.Runs.LatestResumableRun(cmd.Context())
			if err != nil {
				var notFound *domain.NotFoundError
				if errors.As(err, &notFound) {
					fmt.Println("nothing to recover: no failed or partial runs")
					return nil
				}
				return err
			}

			rt.logger.Info("recovering run",
				"run_id", run.RunID, "previous_status", run.Status)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, rt, run.RunID)
		},
	}
}
