package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func backfillCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate missing cover art for finished stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if !s.covers.Enabled() {
				return fmt.Errorf("cover art is disabled: set storage.bucket")
			}
			added, err := s.covers.Backfill(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d covers\n", added)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum stories to process")
	return cmd
}
