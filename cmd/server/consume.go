package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/outlet-reservation/internal/queue"
)

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Append reservation events from RabbitMQ to the reservation log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Notify.AMQPURL == "" {
				return errors.New("RABBITMQ_URL is not set")
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger.Info("consuming reservation events", "queue", cfg.Notify.Queue, "log_file", cfg.Notify.LogFile)
			err = queue.NewConsumer(cfg.Notify.AMQPURL, cfg.Notify.Queue, cfg.Notify.LogFile, logger).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
