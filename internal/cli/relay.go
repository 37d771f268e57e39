package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/relay"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the reference relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := initLogging(cfg); err != nil {
				return err
			}
			logger := logging.Component("drift")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().Str("listen_addr", cfg.Relay.ListenAddr).Msg("starting relay")
			return relay.NewServer().ListenAndServe(ctx, cfg.Relay.ListenAddr)
		},
	}
	cmd.Flags().String("listen", "", "address to bind")
	return cmd
}
