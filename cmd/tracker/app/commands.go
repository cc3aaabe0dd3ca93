// Package app holds the tracker CLI commands.
package app

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tracker",
		Short: "Carrier tracking synchronization service",
		Long: `tracker polls carrier tracking APIs, keeps one canonical timeline per
tracking number and emits notification triggers when a shipment's status,
exception state or estimated delivery changes.

Configuration is read from the environment.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newPollCmd())
	return root
}
