package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftchat/drift/internal/channel"
	"github.com/driftchat/drift/internal/client"
	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/snapshot"
	"github.com/driftchat/drift/internal/tui"
)

const stopTimeout = 5 * time.Second

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a channel (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd)
		},
	}
	addChatFlags(cmd)
	return cmd
}

func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().String("channel", "", "channel to join")
	cmd.Flags().String("author", "", "display name for sent messages")
	cmd.Flags().String("relay", "", "websocket relay URL (empty for offline mode)")
}

func runChat(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	logger := logging.Component("drift")

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := snapshot.Open(cfg.Snapshot.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	feed, closeFeed, err := openFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	session := client.New(client.Config{
		ChannelID:        cfg.Channel.ID,
		Author:           cfg.Channel.Author,
		LifetimeMin:      cfg.Engine.LifetimeMin,
		LifetimeMax:      cfg.Engine.LifetimeMax,
		Lanes:            cfg.Engine.Lanes,
		GracePeriod:      cfg.Engine.GracePeriod,
		ActivityWindow:   cfg.Engine.ActivityWindow,
		SnapshotDebounce: cfg.Engine.SnapshotDebounce,
	}, feed, store)

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := session.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("session stop failed")
		}
	}()

	logger.Info().
		Str("channel_id", cfg.Channel.ID).
		Str("relay_url", cfg.Channel.RelayURL).
		Msg("joining channel")

	return tui.Run(tui.Config{
		ChannelID:       cfg.Channel.ID,
		RefreshInterval: cfg.TUI.RefreshInterval,
		ShowStats:       cfg.TUI.ShowStats,
	}, session)
}

// openFeed connects to the configured relay, or falls back to an
// in-process feed for offline use.
func openFeed(ctx context.Context, cfg *config.Config) (channel.Feed, func(), error) {
	if cfg.Channel.RelayURL == "" {
		return channel.NewMemoryFeed(), func() {}, nil
	}
	ws, err := channel.DialFeed(ctx, cfg.Channel.RelayURL)
	if err != nil {
		return nil, nil, err
	}
	return ws, func() { _ = ws.Close() }, nil
}
