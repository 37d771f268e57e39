package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Snapshot.Path = expandTilde(cfg.Snapshot.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "drift"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "drift"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix("DRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("channel.id", cfg.Channel.ID)
	v.SetDefault("channel.author", cfg.Channel.Author)
	v.SetDefault("channel.relay_url", cfg.Channel.RelayURL)

	v.SetDefault("engine.lifetime_min", cfg.Engine.LifetimeMin)
	v.SetDefault("engine.lifetime_max", cfg.Engine.LifetimeMax)
	v.SetDefault("engine.lanes", cfg.Engine.Lanes)
	v.SetDefault("engine.grace_period", cfg.Engine.GracePeriod)
	v.SetDefault("engine.activity_window", cfg.Engine.ActivityWindow)
	v.SetDefault("engine.snapshot_debounce", cfg.Engine.SnapshotDebounce)

	v.SetDefault("snapshot.path", cfg.Snapshot.Path)

	v.SetDefault("relay.listen_addr", cfg.Relay.ListenAddr)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)

	v.SetDefault("tui.refresh_interval", cfg.TUI.RefreshInterval)
	v.SetDefault("tui.show_stats", cfg.TUI.ShowStats)
}

// bindEnvVars explicitly binds environment variables so Unmarshal picks
// them up for nested keys.
func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"channel.id",
		"channel.author",
		"channel.relay_url",
		"engine.lifetime_min",
		"engine.lifetime_max",
		"engine.lanes",
		"engine.grace_period",
		"engine.activity_window",
		"engine.snapshot_debounce",
		"snapshot.path",
		"relay.listen_addr",
		"logging.level",
		"logging.format",
		"logging.file",
		"tui.refresh_interval",
		"tui.show_stats",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key, used for CLI flag overrides.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}
