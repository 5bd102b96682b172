package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func relationshipsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "relationships",
		Short: "Rebuild entity relationships from chapter co-occurrence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			written, err := s.runner.DiscoverRelationships(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d relationships (min co-occurrences %d)\n", written, a.cfg.Loop.MinCooccurrences)
			return nil
		},
	}
}
