// Package mementocmder
package mementocmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/mementolabs/memento/cmd/memento/config"
	servecmder "github.com/mementolabs/memento/cmd/memento/serve"
	usercmder "github.com/mementolabs/memento/cmd/memento/user"
	versioncmder "github.com/mementolabs/memento/cmd/version"
)

const mementoLongDesc string = `Memento is long-term memory for your agents.

Store natural-language facts, search them by meaning, and let the
lifecycle keep the store healthy over time.

Common commands:
  memento serve            Run the memory server (HTTP API + MCP)
  memento config list      Show the effective configuration
  memento config preset    Apply a provider preset
  memento user             Show or switch the active user namespace`

const mementoShortDesc string = "Memento - Agent Memory"

func NewMementoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memento",
		Short: mementoShortDesc,
		Long:  mementoLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .memento/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(usercmder.NewUserCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
