package main

import (
	"github.com/spf13/cobra"

	"github.com/vinayprograms/sessionkit/config"
)

// NewConfigCommand groups configuration helpers.
func NewConfigCommand(loader *config.Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(loader))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print the default configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.Export(cmd.OutOrStdout(), config.Default())
		},
	}
}

func newConfigShowCommand(loader *config.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			return config.Export(cmd.OutOrStdout(), cfg)
		},
	}
}
