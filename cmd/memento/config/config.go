// Package configcmder provides the config command for managing persistent
// memento configuration stored in the .memento/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent memento configuration.

Configuration is stored as config.toml in the .memento/ directory and provides
default values for command flags. CLI flags and MEMENTO_ environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.provider, storage.sqlite_path,
  api.listen, memory.default_user,
  vector_store.provider, vector_store.target, vector_store.collection,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  llm.provider, llm.model, llm.target,
  lifecycle.enabled, lifecycle.interval,
  events.enabled, events.brokers, events.topic

Use subcommands to get, set, list, or preset configuration values:
  memento config set <key> <value>    Set a configuration value
  memento config get <key>            Get a configuration value
  memento config list                 List all configuration values
  memento config preset <name>        Apply a provider preset

Examples:
  memento config set embedding.model nomic-embed-text
  memento config get llm.provider
  memento config preset openai
  memento config list`

const configShortDesc string = "Manage persistent memento configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPresetCmd())

	return cmd
}
