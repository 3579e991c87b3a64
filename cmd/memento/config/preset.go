package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mementolabs/memento/pkg/config"
)

const presetLongDesc string = `Apply a provider preset.

Writes a full configuration for the named provider to the config.toml
file in the .memento/ directory, overwriting existing values. Presets
cover the embedding and extraction LLM settings; storage and server
settings keep their defaults.

Available presets: openai, anthropic, ollama

The anthropic preset keeps the local Ollama embedder, since Anthropic
does not provide an embeddings API.

Examples:
  memento config preset openai
  memento config preset ollama`

const presetShortDesc string = "Apply a provider preset"

func newPresetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset <name>",
		Short: presetShortDesc,
		Long:  presetLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runPreset(args[0], configDir)
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.ValidPresetNames(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	return cmd
}

func runPreset(name, configDir string) error {
	cfg, err := config.PresetConfig(name)
	if err != nil {
		return fmt.Errorf("%w\n\nAvailable presets: %s",
			err, strings.Join(config.ValidPresetNames(), ", "))
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Printf("Applied preset %q to %s\n", strings.ToLower(name), cfger.GetTarget())
	return nil
}
