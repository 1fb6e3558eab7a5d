package main

import (
	"context"
	"fmt"

	"tasksync/internal/offline"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type syncOptions struct {
	limit       int
	retryFailed bool
	cleanup     bool
	days        int
}

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var opts syncOptions
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the offline sync queue once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			defer a.Close()
			return runSync(cmd, a.coordinator, opts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum records to process (default sync.batch_size)")
	cmd.Flags().BoolVar(&opts.retryFailed, "retry-failed", false, "reset failed records to pending before draining")
	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", false, "delete completed records older than --days after draining")
	cmd.Flags().IntVar(&opts.days, "days", 0, "retention window for --cleanup (default sync.retention_days)")
	return cmd
}

// syncRunner is the part of the coordinator the sync command drives.
type syncRunner interface {
	ResetFailed(ctx context.Context) (int, error)
	ProcessSyncQueue(ctx context.Context, limit int) offline.Result
	Cleanup(ctx context.Context, days int) (int, error)
}

func runSync(cmd *cobra.Command, c syncRunner, opts syncOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.retryFailed {
		n, err := c.ResetFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Reset %d failed records\n", n)
	}

	res := c.ProcessSyncQueue(ctx, opts.limit)
	fmt.Fprintf(out, "status=%s processed=%d failed=%d\n", res.Status, res.Processed, res.Failed)

	if opts.cleanup {
		n, err := c.Cleanup(ctx, opts.days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d completed records\n", n)
	}
	return nil
}
