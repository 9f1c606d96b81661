package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/outlet-reservation/internal/config"
	"github.com/iliyamo/outlet-reservation/internal/database"
	"github.com/iliyamo/outlet-reservation/internal/handler"
	"github.com/iliyamo/outlet-reservation/internal/queue"
	"github.com/iliyamo/outlet-reservation/internal/router"
)

func newServeCmd() *cobra.Command {
	var (
		migrateUp bool
		consume   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if migrateUp && cfg.Store.Driver == "mysql" {
				db, err := openDB(cfg)
				if err != nil {
					return err
				}
				applied, err := database.Migrate(ctx, db)
				_ = db.Close()
				if err != nil {
					return err
				}
				logger.Info("migrations applied", "count", len(applied))
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			rdb := config.NewRedisClient(cfg.Redis)
			if rdb != nil {
				defer rdb.Close()
			} else {
				logger.Info("redis not configured or unreachable; caching and rate limiting disabled")
			}

			if consume && cfg.Notify.AMQPURL != "" {
				c := queue.NewConsumer(cfg.Notify.AMQPURL, cfg.Notify.Queue, cfg.Notify.LogFile, logger)
				go func() { _ = c.Run(ctx) }()
			}

			e := router.New(router.Handlers{
				Health:       handler.Health(a.pinger),
				Outlets:      handler.NewOutletHandler(a.store, a.calculator, logger),
				Reservations: handler.NewReservationHandler(a.coordinator, logger),
				Payments:     handler.NewPaymentHandler(a.reconciler, logger),
				Sweep:        handler.NewSweepHandler(a.sweeper, logger),
			}, router.Options{
				JWTSecret:       cfg.JWTSecret,
				SweepKeyHash:    cfg.SweepKeyHash,
				AllowSimulation: cfg.AllowSimulation(),
				RateLimit:       cfg.RateLimit,
				Cache:           cfg.Cache,
				Redis:           rdb,
				Logger:          logger,
			})

			addr := ":" + cfg.Port
			errc := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.Store.Driver, "gateway", cfg.Gateway.Driver)
				errc <- e.Start(addr)
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			logger.Info("shutting down")
			return e.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply database migrations on startup")
	cmd.Flags().BoolVar(&consume, "consume", false, "also run the reservation event consumer")
	return cmd
}
