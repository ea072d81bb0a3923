package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"near-onramp/config"
	"near-onramp/internal/popup"
	"near-onramp/pkg/broadcast"
	"near-onramp/pkg/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the onramp popup service",
	Long: `Run the HTTP service hosting onramp sessions: the popup launch
endpoint, the embedder websocket, session administration and metrics.

Examples:
  near-onramp serve
  ONRAMP_LISTEN_ADDR=:9090 near-onramp serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := popup.OpenStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := newBroker(cfg)
	server := popup.NewServer(popup.ServerConfig{
		ListenAddr:   cfg.ListenAddr,
		Production:   cfg.Production(),
		PollInterval: cfg.PollInterval,
	}, store, provider.NewClient(cfg.JWTToken), broadcast.NewChannel(broker))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx)
}

// newBroker picks the result-channel transport: redis when configured, so
// results cross process boundaries, in-memory otherwise.
func newBroker(cfg *config.Config) broadcast.Broker {
	if cfg.RedisAddr == "" {
		return broadcast.NewMemoryBroker()
	}
	log.WithField("addr", cfg.RedisAddr).Info("using redis for the result channel")
	return broadcast.NewRedisBroker(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
}
