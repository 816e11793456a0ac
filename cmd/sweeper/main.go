package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/taxroll/lead-reconciler/internal/adapter"
	"github.com/taxroll/lead-reconciler/internal/config"
	"github.com/taxroll/lead-reconciler/internal/geocode"
	"github.com/taxroll/lead-reconciler/internal/logger"
	"github.com/taxroll/lead-reconciler/internal/score"
	"github.com/taxroll/lead-reconciler/internal/store"
	"github.com/taxroll/lead-reconciler/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	runOnce    = flag.Bool("once", false, "Run a single sweep and exit")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting lead reconciler sweeper")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	dataStore := store.NewPGStore(db)
	if redisClient != nil {
		dataStore = store.NewCachedStore(dataStore, redisClient, cfg.Redis.CacheTTL)
	}

	// Geocoding is optional; without a base URL the sweeper only
	// deactivates stale leads and refreshes scores
	var geocoder *geocode.Geocoder
	if cfg.Geocode.BaseURL != "" {
		geocoder = geocode.NewGeocoder(
			adapter.NewHTTPClient(cfg.Geocode.HTTPTimeout),
			redisClient,
			cfg.Geocode.BaseURL,
			cfg.Geocode.Workers,
		)
		logger.InfoCtx(ctx, "Geocoding enabled", zap.String("base_url", cfg.Geocode.BaseURL))
	}

	clock := adapter.NewClock()
	sw := sweeper.New(sweeper.Config{
		Schedule:         cfg.Sweeper.Schedule,
		StaleAfter:       cfg.Sweeper.StaleAfter,
		GeocodeBatchSize: cfg.Geocode.BatchSize,
	}, dataStore, geocoder, score.NewScorer(), clock)

	if *runOnce {
		if err := sw.Sweep(ctx); err != nil {
			logger.FatalCtx(ctx, "Sweep failed", zap.Error(err))
		}
		return
	}

	if err := sw.Start(ctx); err != nil {
		logger.FatalCtx(ctx, "Failed to start sweeper", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Sweeper scheduled", zap.String("schedule", cfg.Sweeper.Schedule))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	cancel()
	sw.Stop()
}
