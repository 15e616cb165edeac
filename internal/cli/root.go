// Package cli implements the urumi command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the urumi binary.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urumi",
		Short: "Urumi store provisioning orchestrator",
		Long: `Urumi provisions isolated store instances on a shared cluster.

Configuration is read from URUMI_* environment variables. The API accepts
store requests and queues them; the worker applies each store's chart and
records whether it became Ready or Failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newAPICommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newEnginesCommand())

	return cmd
}
