package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storypool/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := &cobra.Command{
		Use:               "storypool",
		Short:             "Autonomous pool of serialized generated stories",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Path to the config file")
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")

	root.AddCommand(initCmd(a))
	root.AddCommand(serveCmd(a))
	root.AddCommand(tickCmd(a))
	root.AddCommand(storiesCmd(a))
	root.AddCommand(resetCmd(a))
	root.AddCommand(entitiesCmd(a))
	root.AddCommand(relationshipsCmd(a))
	root.AddCommand(backfillCmd(a))
	root.AddCommand(migrateCmd(a))
	root.AddCommand(validateCmd(a))
	root.AddCommand(configCmd(a))
	root.AddCommand(statsCmd(a))
	root.AddCommand(mcpCmd(a))
	root.AddCommand(versionCmd())
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
