package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storypool/internal/admin"
)

func storiesKillCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "kill <id>",
		Short: "Terminate an active story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			// Killing only needs a model when cover art is enabled.
			s, err := a.openStack(ctx, a.cfg.Storage.Bucket != "")
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			story, err := s.admin.Kill(ctx, id, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Killed story %d (%s)\n", story.ID, story.CompletionReason)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", admin.DefaultKillReason, "Completion reason to record")
	return cmd
}
