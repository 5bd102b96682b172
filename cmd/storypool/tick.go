package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func tickCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one pass of the pool loop and exit",
		Long:  "Reconcile the pool, advance every active story, then backfill cover art.\nSuitable for cron-style schedulers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			report, err := s.runner.Tick(ctx, s.runner.ManualGuard())
			if err != nil {
				return err
			}
			if linked := s.enricher.Drain(ctx); linked > 0 {
				a.logger.Debug("enrichment drained", zap.Int("chapters", linked))
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"spawned=%d retired=%d active=%d chapters=%d evaluations=%d completed=%d covers=%d skipped=%d failed=%d stopped_early=%t duration=%s\n",
				report.Spawned, report.Retired, report.Active, report.Chapters, report.Evaluations,
				report.Completed, report.CoversAdded, report.Skipped, report.Failed, report.StoppedEarly,
				report.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
