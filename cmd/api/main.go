package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/atelier-backend/api/routes"
	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/internal/consumption"
	"github.com/angelmondragon/atelier-backend/internal/costing"
	"github.com/angelmondragon/atelier-backend/internal/inventorystats"
	"github.com/angelmondragon/atelier-backend/pkg/config"
	"github.com/angelmondragon/atelier-backend/pkg/db"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
	"github.com/angelmondragon/atelier-backend/pkg/metrics"
	"github.com/angelmondragon/atelier-backend/pkg/migrate"
	"github.com/angelmondragon/atelier-backend/pkg/outbox"
	"github.com/angelmondragon/atelier-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	inventoryMetrics := metrics.NewInventoryMetrics(registry)

	deps, err := buildServices(cfg, logg, dbClient, inventoryMetrics)
	if err != nil {
		return err
	}
	deps.Config = cfg
	deps.Logger = logg
	deps.DB = dbClient
	deps.Redis = redisClient
	deps.IdempotencyStore = redisClient
	deps.Gatherer = registry
	deps.HTTPMetrics = metrics.NewHTTPMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, inventoryMetrics *metrics.InventoryMetrics) (routes.Deps, error) {
	batchRepo := batches.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	batchService, err := batches.NewService(batches.ServiceParams{
		Repository: batchRepo,
		TxRunner:   dbClient,
		Outbox:     emitter,
		Logger:     logg,
		Metrics:    inventoryMetrics,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	planner, err := allocation.NewPlanner(allocation.PlannerParams{
		Repository: batchRepo,
		Logger:     logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	consumer, err := consumption.NewService(consumption.ServiceParams{
		Batches:  batchRepo,
		Usage:    consumption.NewUsageRepository(dbClient.DB()),
		TxRunner: dbClient,
		Outbox:   emitter,
		Logger:   logg,
		Metrics:  inventoryMetrics,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	costingService, err := costing.NewService(costing.ServiceParams{
		Planner:              planner,
		Consumer:             consumer,
		Logger:               logg,
		MaxRetries:           cfg.Inventory.ConsumeMaxRetries,
		RetryBase:            cfg.Inventory.ConsumeRetryBase,
		DefaultMarginPercent: decimal.NewFromFloat(cfg.Pricing.DefaultMarginPercent),
		DefaultTaxPercent:    decimal.NewFromFloat(cfg.Pricing.DefaultTaxPercent),
	})
	if err != nil {
		return routes.Deps{}, err
	}

	statistics, err := inventorystats.NewService(inventorystats.ServiceParams{
		Repository:    batchRepo,
		LowStockGrams: decimal.NewFromFloat(cfg.Inventory.LowStockGrams),
	})
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Batches:    batchService,
		Planner:    planner,
		Costing:    costingService,
		Statistics: statistics,
	}, nil
}
