package main

import (
	"github.com/spf13/cobra"

	"github.com/example/taxiroutes/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operational tasks for the taxi booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd(config.FromEnv))
	root.AddCommand(newWebhookCmd(config.FromEnv))
	root.AddCommand(newTokenCmd(config.FromEnv))
	return root
}
