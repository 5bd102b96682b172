package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"storypool/internal/validate"
)

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run consistency checks against the stored pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, a)
		},
	}
}

func runValidate(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	s, err := a.openStack(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	rt, err := s.runtime.Effective(ctx)
	if err != nil {
		return err
	}
	report, err := validate.Run(ctx, s.store, rt)
	if err != nil {
		return err
	}

	var errorIssues []validate.Issue
	var warnIssues []validate.Issue
	for _, issue := range report.Issues {
		switch issue.Severity {
		case validate.SeverityError:
			errorIssues = append(errorIssues, issue)
		case validate.SeverityWarn:
			warnIssues = append(warnIssues, issue)
		}
	}

	out := cmd.OutOrStdout()
	if len(errorIssues) == 0 && len(warnIssues) == 0 {
		fmt.Fprintln(out, "No issues found.")
		return nil
	}

	if len(errorIssues) > 0 {
		fmt.Fprintf(out, "Errors (%d):\n", len(errorIssues))
		printIssues(out, errorIssues)
	}
	if len(warnIssues) > 0 {
		if len(errorIssues) > 0 {
			fmt.Fprintln(out, "")
		}
		fmt.Fprintf(out, "Warnings (%d):\n", len(warnIssues))
		printIssues(out, warnIssues)
	}

	if len(errorIssues) > 0 {
		return fmt.Errorf("validation found errors")
	}
	return nil
}

func printIssues(out io.Writer, issues []validate.Issue) {
	for _, issue := range issues {
		location := "pool"
		if issue.StoryID != 0 {
			location = fmt.Sprintf("story %d", issue.StoryID)
		}
		if issue.Chapter != 0 {
			location = fmt.Sprintf("%s chapter %d", location, issue.Chapter)
		}
		fmt.Fprintf(out, "  - %s: %s (%s)\n", location, issue.Message, issue.Code)
	}
}
