package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func storiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "Inspect and manage stories in the pool",
	}
	cmd.AddCommand(storiesListCmd(a))
	cmd.AddCommand(storiesShowCmd(a))
	cmd.AddCommand(storiesSpawnCmd(a))
	cmd.AddCommand(storiesKillCmd(a))
	cmd.AddCommand(storiesDeleteCmd(a))
	cmd.AddCommand(storiesChapterCmd(a))
	return cmd
}

func parseStoryID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid story id %q", arg)
	}
	return id, nil
}
