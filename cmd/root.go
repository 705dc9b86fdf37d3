package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/basit/fileshare-workspaces/initializers"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fileshare",
		Short:         "Workspace file sharing server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand(), newReapCommand())
	return root
}

func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*initializers.Config, *logrus.Logger, error) {
	cfg, err := initializers.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, initializers.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}
