// Package config handles drift configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for drift.
type Config struct {
	// Channel identifies which conversation to join and as whom.
	Channel ChannelConfig `yaml:"channel" mapstructure:"channel"`

	// Engine tunes the message lifecycle and animation scheduling.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Snapshot settings for the durable per-channel state.
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`

	// Relay settings, used by the relay subcommand.
	Relay RelayConfig `yaml:"relay" mapstructure:"relay"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// ChannelConfig identifies the conversation.
type ChannelConfig struct {
	// ID is the channel to join.
	ID string `yaml:"id" mapstructure:"id"`

	// Author is the display name attached to sent messages.
	Author string `yaml:"author" mapstructure:"author"`

	// RelayURL is the websocket relay endpoint. Empty runs the client
	// against an in-process feed (offline mode).
	RelayURL string `yaml:"relay_url" mapstructure:"relay_url"`
}

// EngineConfig tunes message lifecycle behavior.
type EngineConfig struct {
	// LifetimeMin and LifetimeMax bound the activity-modulated lifetime.
	LifetimeMin time.Duration `yaml:"lifetime_min" mapstructure:"lifetime_min"`
	LifetimeMax time.Duration `yaml:"lifetime_max" mapstructure:"lifetime_max"`

	// Lanes is the size of the vertical lane pool.
	Lanes int `yaml:"lanes" mapstructure:"lanes"`

	// GracePeriod is how far past expiry a snapshotted message still
	// counts as recently expired on restore.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`

	// ActivityWindow is the sliding window for the channel busyness level.
	ActivityWindow time.Duration `yaml:"activity_window" mapstructure:"activity_window"`

	// SnapshotDebounce is the minimum spacing between durable writes.
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce" mapstructure:"snapshot_debounce"`
}

// SnapshotConfig contains durable storage settings.
type SnapshotConfig struct {
	// Path is the SQLite snapshot file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// RelayConfig contains relay server settings.
type RelayConfig struct {
	// ListenAddr is the address the relay binds to.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`
}

// TUIConfig contains terminal UI settings.
type TUIConfig struct {
	// RefreshInterval is the render tick spacing.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`

	// ShowStats toggles the reaction statistics footer.
	ShowStats bool `yaml:"show_stats" mapstructure:"show_stats"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Channel: ChannelConfig{
			ID:     "lobby",
			Author: "anonymous",
		},
		Engine: EngineConfig{
			LifetimeMin:      15 * time.Second,
			LifetimeMax:      45 * time.Second,
			Lanes:            8,
			GracePeriod:      5 * time.Second,
			ActivityWindow:   30 * time.Second,
			SnapshotDebounce: 750 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			Path: filepath.Join(homeDir, ".local", "share", "drift", "snapshots.db"),
		},
		Relay: RelayConfig{
			ListenAddr: ":8474",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		TUI: TUIConfig{
			RefreshInterval: 80 * time.Millisecond,
			ShowStats:       true,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Channel.ID == "" {
		return fmt.Errorf("channel.id is required")
	}

	if c.Engine.LifetimeMin <= 0 {
		return fmt.Errorf("engine.lifetime_min must be positive")
	}
	if c.Engine.LifetimeMax < c.Engine.LifetimeMin {
		return fmt.Errorf("engine.lifetime_max must be at least engine.lifetime_min")
	}
	if c.Engine.Lanes < 1 {
		return fmt.Errorf("engine.lanes must be at least 1")
	}
	if c.Engine.GracePeriod < 0 {
		return fmt.Errorf("engine.grace_period cannot be negative")
	}
	if c.Engine.ActivityWindow < time.Second {
		return fmt.Errorf("engine.activity_window must be at least 1s")
	}

	if c.TUI.RefreshInterval < 10*time.Millisecond {
		return fmt.Errorf("tui.refresh_interval must be at least 10ms")
	}

	return nil
}

// EnsureDirectories creates the snapshot directory if needed.
func (c *Config) EnsureDirectories() error {
	if c.Snapshot.Path == "" {
		return nil
	}
	dir := filepath.Dir(c.Snapshot.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
