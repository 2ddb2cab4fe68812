package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/circulum-backend/api/controllers"
	"github.com/angelmondragon/circulum-backend/api/routes"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	operationMetrics := metrics.NewOperationMetrics(registry)

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
		Clock:  clock.System{},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create treasury service", err)
		os.Exit(1)
	}

	plansService, err := plans.NewService(plans.ServiceParams{
		DB:     dbClient,
		Repo:   plans.NewRepository(dbClient.DB()),
		Events: eventsService,
		Clock:  clock.System{},
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
		Clock:    clock.System{},
		Metrics:  operationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config: cfg,
			Logger: logg,
			Redis:  redisClient,
			Readiness: map[string]controllers.Pinger{
				"postgres": dbClient,
				"redis":    redisClient,
			},
			Accounts:      treasuryService,
			Plans:         plansService,
			Subscriptions: subscriptionsService,
			Events:        eventsService,
			Metrics:       operationMetrics,
			Registry:      registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
