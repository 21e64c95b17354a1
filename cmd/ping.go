package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/heaven-sync/internal/heaven"
)

func newPingCmd() *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "ping",
		Short: "Log in to the remote ledger and open the timechart, without registering anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ctx, cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			syncer, _, err := newSyncer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := syncer.Ping(ctx); err != nil {
				return fmt.Errorf("ping failed (%s): %w", heaven.Kind(err), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfg.HeavenURL)
			return nil
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall budget")
	return c
}
