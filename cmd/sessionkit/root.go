package main

import (
	"github.com/spf13/cobra"

	"github.com/vinayprograms/sessionkit/config"
)

// NewRootCommand builds the root CLI command.
func NewRootCommand(loader *config.Loader) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "sessionkit",
		Short:         "Session presence and inactivity lifecycle for browser tabs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewRunCommand(loader))
	cmd.AddCommand(NewConfigCommand(loader))
	return cmd
}
