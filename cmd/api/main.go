package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/config"
	"github.com/PaulBabatuyi/realtime-dm/internal/logging"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "realtime-dm",
		Short:         "Direct messaging backend with live delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(indexesCmd())
	root.AddCommand(rebuildCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the root logger.
func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Pretty), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server and the HTTP/WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func indexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create MongoDB indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.DriverMongo {
				return fmt.Errorf("indexes: store driver is %q, not %q", cfg.Store.Driver, config.DriverMongo)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = b.Close(context.Background())
			}()
			log.Info().Str("database", cfg.Store.Database).Msg("indexes ready")
			return nil
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-summaries [conversationID...]",
		Short: "Rebuild conversation summaries from stored messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = b.Close(context.Background())
			}()

			r := chat.NewRebuilder(b.store, logging.Component(log, "rebuild"))
			if len(args) == 0 {
				n, err := r.RebuildAll(ctx)
				log.Info().Int("conversations", n).Msg("summaries rebuilt")
				return err
			}
			for _, id := range args {
				if _, err := r.Rebuild(ctx, id); err != nil {
					return fmt.Errorf("rebuild %s: %w", id, err)
				}
			}
			log.Info().Int("conversations", len(args)).Msg("summaries rebuilt")
			return nil
		},
	}
}
