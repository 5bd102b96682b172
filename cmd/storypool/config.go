package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or override the runtime configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective runtime configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			rt, err := s.admin.Config(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rt)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "patch <json>",
		Short:   "Merge a JSON object into the stored runtime overrides",
		Example: `  storypool config patch '{"min_active_stories": 3, "quality_score_min": 0.65}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			rt, err := s.admin.PatchConfig(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rt)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop every stored runtime override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if err := s.runtime.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Runtime overrides cleared.")
			return nil
		},
	})
	return cmd
}
