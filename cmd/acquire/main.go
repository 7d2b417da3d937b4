package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/crop-climate-etl/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/crop-climate-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/crop-climate-etl/internal/adapter/kafka"
	"github.com/couchcryptid/crop-climate-etl/internal/adapter/noaa"
	"github.com/couchcryptid/crop-climate-etl/internal/adapter/pagecache"
	"github.com/couchcryptid/crop-climate-etl/internal/adapter/postgres"
	"github.com/couchcryptid/crop-climate-etl/internal/adapter/usda"
	"github.com/couchcryptid/crop-climate-etl/internal/config"
	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/fetch"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/couchcryptid/crop-climate-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "crop-climate-etl")
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := &fetch.Progress{}

	// CDO pages, optionally behind the page cache (PAGE_CACHE_SIZE / REDIS_ADDR).
	var source fetch.PageSource = noaa.NewClient(cfg.NOAAToken, cfg.NOAABaseURL, cfg.HTTPTimeout, metrics, logger)
	var redisStore *pagecache.RedisStore
	if cfg.RedisAddr != "" {
		redisStore = pagecache.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisTTL)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warn("redis page cache unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
			redisStore.Close() //nolint:errcheck // best-effort close of an unusable client
			redisStore = nil
		}
	}
	if cfg.PageCacheSize > 0 || redisStore != nil {
		var store pagecache.Store
		if redisStore != nil {
			store = redisStore
		}
		source = pagecache.New(source, cfg.PageCacheSize, store, metrics, logger)
		logger.Info("page cache enabled", "size", cfg.PageCacheSize, "redis", redisStore != nil)
	}
	cdo := fetch.New(source, cdoOptions(cfg), clock, progress, metrics, logger)

	// Yields (feature-flagged via USDA_API_KEY).
	var yields pipeline.YieldFetcher
	if cfg.USDAKey != "" {
		client := usda.NewClient(cfg.USDAKey, cfg.USDABaseURL, cfg.HTTPTimeout, metrics, logger)
		yields = fetch.NewYieldFetcher(client, yieldOptions(cfg), clock, progress, metrics, logger)
	} else {
		logger.Info("usda yields disabled")
	}

	sinks := pipeline.Sinks{Files: csvfile.NewWriter(cfg.OutputDir, metrics, logger)}

	var kafkaWriter *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		kafkaWriter = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, metrics, logger)
		sinks.Publisher = kafkaWriter
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var loader *postgres.Loader
	if cfg.DatabaseURL != "" {
		loader, err = postgres.Connect(ctx, cfg.DatabaseURL, metrics, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			stop()
			os.Exit(1)
		}
		if err := loader.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create schema", "error", err)
			loader.Close()
			stop()
			os.Exit(1)
		}
		sinks.Loader = loader
		logger.Info("postgres loading enabled")
	}

	jobs := pipeline.Jobs{
		Daily: domain.DailyQuery{
			DatasetID:  cfg.DatasetID,
			LocationID: cfg.LocationID,
			DataTypes:  cfg.DataTypes,
			Units:      cfg.Units,
			Start:      cfg.StartDate(),
			End:        cfg.EndDate(),
		},
		Yields: domain.YieldQuery{
			State:       cfg.State,
			Commodities: cfg.Commodities,
			StartYear:   cfg.StartYear,
			EndYear:     cfg.EndYear,
		},
	}

	p := pipeline.New(cdo, yields, sinks, jobs, progress, clock, metrics, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, progress, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	exitCode := 0
	summary, err := p.Run(ctx)
	if err != nil {
		logger.Error("run failed", "run_id", summary.RunID, "error", err)
		exitCode = 1
	}
	for _, s := range summary.Stages {
		logger.Info("stage summary",
			"run_id", summary.RunID,
			"stage", s.Name,
			"status", s.Status,
			"records", s.Records,
			"pages", s.Pages,
			"failures", s.Failures,
			"skipped", s.Skipped,
		)
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if loader != nil {
		loader.Close()
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		cancel()
		stop()
		os.Exit(exitCode)
	}
}

func cdoOptions(cfg *config.Config) fetch.Options {
	return fetch.Options{
		WindowDays:          cfg.WindowDays,
		PageLimit:           cfg.PageLimit,
		RequestDelay:        cfg.RequestDelay,
		RateLimitBackoff:    cfg.RateLimitBackoff,
		MaxRateLimitBackoff: cfg.MaxRateLimitBackoff,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
	}
}

// yieldOptions paces QuickStats with its own delay; the 429 rules are shared.
func yieldOptions(cfg *config.Config) fetch.Options {
	opts := cdoOptions(cfg)
	opts.RequestDelay = cfg.USDARequestDelay
	return opts
}
