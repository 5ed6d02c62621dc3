package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcdannyboy/SharepointAudit/internal/app"
)

func newCleanupCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune old checkpoints from the audit store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			removed, err := rt.app.Checkpoints.Cleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d checkpoints older than %s\n", removed, olderThan)

			purged, err := rt.app.Cache.PurgeShared(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d expired cache entries\n", purged)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", app.CheckpointRetention, "checkpoint retention window")
	return cmd
}
