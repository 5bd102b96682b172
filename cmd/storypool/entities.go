package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func entitiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect and curate the entity graph",
	}
	cmd.AddCommand(entitiesListCmd(a))
	cmd.AddCommand(entitiesMergeCmd(a))
	cmd.AddCommand(entitiesSuppressCmd(a))
	cmd.AddCommand(entitiesOverridesCmd(a))
	return cmd
}

func entitiesListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most mentioned entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			entities, err := s.admin.Entities(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entities) == 0 {
				fmt.Fprintln(out, "No entities found.")
				return nil
			}
			for _, e := range entities {
				fmt.Fprintf(out, "%s (%s) mentions=%d importance=%.2f\n", e.Name, e.EntityType, e.MentionCount, e.Importance)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entities to list")
	return cmd
}

func entitiesMergeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <source> <target>",
		Short: "Fold source into target now and for all future extractions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			merged, err := s.admin.MergeEntities(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if merged {
				fmt.Fprintf(cmd.OutOrStdout(), "Merged %q into %q\n", args[0], args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded merge rule %q -> %q\n", args[0], args[1])
			}
			return nil
		},
	}
}

func entitiesSuppressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "suppress <name>",
		Short: "Drop an entity and ignore it in future extractions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if err := s.admin.SuppressEntity(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Suppressed %q\n", args[0])
			return nil
		},
	}
}

func entitiesOverridesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overrides",
		Short: "List merge and suppress rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			overrides, err := s.admin.Overrides(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(overrides) == 0 {
				fmt.Fprintln(out, "No overrides.")
				return nil
			}
			for _, o := range overrides {
				if o.Target != "" {
					fmt.Fprintf(out, "%s\t%s -> %s\n", o.Action, o.CanonicalName, o.Target)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", o.Action, o.CanonicalName)
			}
			return nil
		},
	}
}
