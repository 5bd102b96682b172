package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func storiesSpawnCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Generate a premise and add a new active story",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			story, err := s.admin.Spawn(ctx, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Spawned story %d: %s\n", story.ID, story.Title)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Spawn without retiring the oldest story when the pool is full")
	return cmd
}
