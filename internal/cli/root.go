// Package cli implements the edgenode command line.
package cli

import (
	"github.com/spf13/cobra"
)

// DefaultConfigFile is read when --config is not given.
const DefaultConfigFile = "edgenode.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
}

// NewRootCommand creates the root command for the edgenode CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "edgenode",
		Short: "edgenode runs edgeflow itineraries on an edge node",
		Long: `edgenode signs in with a sign-in document, starts the activities placed
on this node and routes their messages through the configured broker.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", DefaultConfigFile, "path to the node config (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))

	return cmd
}
