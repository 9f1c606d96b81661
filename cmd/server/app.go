package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/iliyamo/outlet-reservation/internal/config"
	"github.com/iliyamo/outlet-reservation/internal/database"
	"github.com/iliyamo/outlet-reservation/internal/gateway"
	"github.com/iliyamo/outlet-reservation/internal/handler"
	"github.com/iliyamo/outlet-reservation/internal/logging"
	"github.com/iliyamo/outlet-reservation/internal/memstore"
	"github.com/iliyamo/outlet-reservation/internal/queue"
	"github.com/iliyamo/outlet-reservation/internal/repository"
	"github.com/iliyamo/outlet-reservation/internal/seed"
	"github.com/iliyamo/outlet-reservation/internal/service"
)

// app is the wired engine shared by the serve and sweep commands.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	store       service.Store
	pinger      handler.Pinger
	calculator  *service.Calculator
	coordinator *service.Coordinator
	reconciler  *service.Reconciler
	sweeper     *service.Sweeper
	closers     []func() error
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(os.Stdout, logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func policyFrom(cfg config.Config) service.Policy {
	return service.Policy{
		MaxAdvanceDays:   cfg.Booking.MaxAdvanceDays,
		HoldTTL:          cfg.Booking.HoldTTL,
		CancelCutoff:     cfg.Booking.CancelCutoff,
		VAExpiry:         cfg.Booking.VAExpiry,
		QRExpiry:         cfg.Booking.QRExpiry,
		Currency:         cfg.Booking.Currency,
		AllowSimulation:  cfg.AllowSimulation(),
		GatewayTimeout:   cfg.Gateway.Timeout,
		SweepBatch:       cfg.Booking.SweepBatch,
		SweepConcurrency: cfg.Booking.SweepConcurrency,
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	gw, err := newGateway(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.Notify.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.Notify.AMQPURL, cfg.Notify.Queue, logger)
		a.closers = append(a.closers, pub.Close)
		notifier = pub
	}

	policy := policyFrom(cfg)
	a.calculator = service.NewCalculator(a.store, policy, nil, logger)
	a.coordinator = service.NewCoordinator(a.store, notifier, policy, nil, logger)
	a.reconciler = service.NewReconciler(a.store, gw, a.coordinator, policy, nil, logger)
	a.sweeper = service.NewSweeper(a.store, a.reconciler, a.coordinator, policy, nil, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "memory":
		ms := memstore.New()
		a.store = ms
		if a.cfg.Store.SeedFile == "" {
			a.logger.Warn("memory store started without SEED_FILE; no outlets are bookable")
			return nil
		}
		outlets, err := seed.LoadFile(a.cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		return seed.Apply(ctx, ms, outlets, a.logger)
	case "mysql":
		db, err := openDB(a.cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		st := repository.NewStore(db, a.cfg.Store.Timeout)
		a.store, a.pinger = st, st
		return nil
	}
	return fmt.Errorf("unsupported store driver %q", a.cfg.Store.Driver)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if cfg.Store.Driver != "mysql" {
		return nil, errors.New("this command needs STORE_DRIVER=mysql")
	}
	db, err := database.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func newGateway(cfg config.Config, logger *slog.Logger) (service.Gateway, error) {
	switch cfg.Gateway.Driver {
	case "sandbox":
		logger.Warn("using the in-process sandbox payment gateway")
		return gateway.NewSandbox(), nil
	case "http":
		return gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout, nil, logger), nil
	}
	return nil, fmt.Errorf("unsupported gateway driver %q", cfg.Gateway.Driver)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
