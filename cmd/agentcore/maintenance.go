package main

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run the snapshot-retention sweep in the foreground on its configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, flagConfigPath, flagDataDir)
			if err != nil {
				return err
			}

			sched := cron.New()
			_, err = sched.AddFunc(a.cfg.Maintenance.Cron, func() {
				purged, err := a.snapshots.PurgeOlderThan(a.cfg.Snapshot.MaxAge)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "snapshot purge failed: %v\n", err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired snapshots\n", purged)
			})
			if err != nil {
				return fmt.Errorf("schedule maintenance cron %q: %w", a.cfg.Maintenance.Cron, err)
			}

			sched.Start()
			defer sched.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "maintenance running on schedule %q; ctrl-c to stop\n", a.cfg.Maintenance.Cron)
			<-ctx.Done()
			return nil
		},
	}
	return cmd
}
