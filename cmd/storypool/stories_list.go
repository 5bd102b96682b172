package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storypool/internal/store"
)

func storiesListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoriesList(cmd, a, store.StoryStatus(status))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Status to filter (active, completed, killed)")
	return cmd
}

func runStoriesList(cmd *cobra.Command, a *app, status store.StoryStatus) error {
	ctx := cmd.Context()
	s, err := a.openStack(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	stories, err := s.admin.ListStories(ctx, status)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(stories) == 0 {
		fmt.Fprintln(out, "No stories found.")
		return nil
	}
	for _, story := range stories {
		fmt.Fprintf(out, "%d\t%-9s\t%s\n", story.ID, story.Status, story.Title)
	}
	return nil
}
