// Package cli wires the drift commands: the chat TUI (default) and the
// reference relay server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "drift",
		Short:         "Ephemeral group chat with drifting messages",
		Long:          "drift joins a channel and renders its messages as bubbles that sweep across the terminal and expire.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/drift/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "override logging level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "override logging format (json, console)")

	cmd.AddCommand(
		newChatCmd(),
		newRelayCmd(),
	)

	// Running drift with no subcommand opens the chat view.
	addChatFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	}

	return cmd
}

// loadConfig builds the effective configuration from defaults, the config
// file, environment and the given command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}

	flagKeys := map[string]string{
		"channel": "channel.id",
		"author":  "channel.author",
		"relay":   "channel.relay_url",
		"listen":  "relay.listen_addr",
	}
	for flagName, key := range flagKeys {
		if flag := cmd.Flags().Lookup(flagName); flag != nil && flag.Changed {
			loader.Set(key, flag.Value.String())
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loader.Set("logging.level", level)
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		loader.Set("logging.format", format)
	}

	return loader.Load()
}

// initLogging configures the global logger. When a log file is set the
// output goes there, which keeps the alternate screen clean while the TUI
// runs.
func initLogging(cfg *config.Config) error {
	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logCfg.Output = f
	}
	logging.Init(logCfg)
	return nil
}
