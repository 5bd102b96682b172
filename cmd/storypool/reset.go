package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func resetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every story and clear runtime overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes every story; pass --yes to confirm")
			}
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			deleted, err := s.admin.Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d stories\n", deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
