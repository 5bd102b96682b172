package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func storiesChapterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chapter <id>",
		Short: "Write the next chapter of a story now, ignoring its interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			outcome, err := s.admin.GenerateChapter(ctx, id)
			if err != nil {
				return err
			}
			s.enricher.Drain(ctx)

			out := cmd.OutOrStdout()
			switch {
			case outcome.Completed:
				fmt.Fprintf(out, "Story %d reached its chapter limit and was completed\n", id)
			case outcome.Duplicate:
				fmt.Fprintf(out, "Another writer already produced the next chapter of story %d\n", id)
			case outcome.Chapter != nil:
				fmt.Fprintf(out, "Wrote chapter %d of story %d\n", outcome.Chapter.ChapterNumber, id)
			default:
				fmt.Fprintf(out, "No chapter written for story %d\n", id)
			}
			return nil
		},
	}
}
