package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/internal/plans"
	"github.com/angelmondragon/circulum-backend/internal/subscriptions"
	"github.com/angelmondragon/circulum-backend/internal/treasury"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/config"
	"github.com/angelmondragon/circulum-backend/pkg/db"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
	"github.com/angelmondragon/circulum-backend/pkg/metrics"
	"github.com/angelmondragon/circulum-backend/pkg/migrate"
	"github.com/angelmondragon/circulum-backend/pkg/redis"
)

const lockKeyFormat = "crc:collector:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "collector"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "collector",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis client", err)
		}
	}()

	sweepLock, err := newSweepLock(redisClient, fmt.Sprintf(lockKeyFormat, cfg.App.Env), cfg.Collector.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	sysClock := clock.System{}
	eventsService, err := events.NewService(events.ServiceParams{
		Repo: events.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create events service", err)
		os.Exit(1)
	}

	treasuryService, err := treasury.NewService(treasury.ServiceParams{
		DB:     dbClient,
		Repo:   treasury.NewRepository(dbClient.DB()),
		Events: eventsService,
		Clock:  sysClock,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create treasury service", err)
		os.Exit(1)
	}

	plansService, err := plans.NewService(plans.ServiceParams{
		DB:     dbClient,
		Repo:   plans.NewRepository(dbClient.DB()),
		Events: eventsService,
		Clock:  sysClock,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plans service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		DB:       dbClient,
		Repo:     subscriptions.NewRepository(dbClient.DB()),
		Plans:    plans.NewRepository(dbClient.DB()),
		Accounts: treasury.NewRepository(dbClient.DB()),
		Rail:     treasuryService,
		Events:   eventsService,
		Clock:    sysClock,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Subscriptions: subscriptionsService,
		Plans:         plansService,
		Lock:          sweepLock,
		Metrics:       metrics.NewJobMetrics(nil),
		Clock:         sysClock,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create collector", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"sweep_interval": cfg.Collector.SweepInterval.String(),
		"batch_size":     cfg.Collector.BatchSize,
	})
	logg.Info(ctx, "starting collector")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "collector stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "collector shutting down gracefully")
}
