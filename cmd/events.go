package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/bidhouse/apiserver/config"
	"github.com/bidhouse/apiserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// eventsCmd groups commands that work with the auction event channel.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect auction events on the message broker",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print auction events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.MQ.Backend == config.MQNone {
			return fmt.Errorf("MQ_BACKEND is %q; nothing to tail", cfg.MQ.Backend)
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := mq.NewBackend(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		events := mq.NewPublisher(backend, cfg.MQ.Channel)
		defer func() {
			_ = events.Close()
		}()

		logger.Info("tailing events", zap.String("backend", cfg.MQ.Backend), zap.String("channel", cfg.MQ.Channel))
		encoder := json.NewEncoder(cmd.OutOrStdout())
		err = events.Subscribe(ctx, func(_ context.Context, event mq.Event) error {
			return encoder.Encode(event)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
