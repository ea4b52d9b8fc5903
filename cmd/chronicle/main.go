package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/chronicle/pkg/async"
	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/middleware"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"store": cfg.Store.Type,
		"port":  cfg.Server.Port,
	}).Info("starting chronicle")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	store, db, err := openStore(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open audit store")
		os.Exit(1)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	// One pool write may retry; size the task timeout to cover the
	// whole retry schedule.
	taskTimeout := time.Duration(cfg.Capture.MaxRetries+1)*cfg.Capture.WriteTimeout +
		time.Duration(cfg.Capture.MaxRetries)*cfg.Capture.RetryBackoff
	pool := async.NewPool(ctx, cfg.Capture.Workers, cfg.Capture.QueueSize, "audit-capture", taskTimeout)
	pool.OnError = func(err error) {
		logger.WithError(err).Error("audit capture task failed")
	}

	source, watcher, err := captureSource(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize capture configuration")
		os.Exit(1)
	}

	recorder := audit.NewRecorder(store, pool, source, audit.RecorderOptions{
		Logger:  logger,
		Metrics: metrics,
	})

	service := audit.NewService(store, audit.ServiceOptions{
		Logger:       logger,
		Metrics:      metrics,
		QueryEnabled: func() bool { return cfg.Query.Enabled },
		QueryTimeout: cfg.Query.Timeout,
	})

	sweeper, err := buildSweeper(ctx, cfg, store, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to initialize retention sweeper")
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			logger.WithError(err).Error("invalid redis URL")
			os.Exit(1)
		}
		if cfg.RateLimit.RedisPassword != "" {
			opts.Password = cfg.RateLimit.RedisPassword
		}
		opts.DB = cfg.RateLimit.RedisDB
		redisClient = redis.NewClient(opts)
	}

	router := mux.NewRouter()
	handlers := audit.NewHandlers(service, sweeper, nil)
	handlers.RegisterRoutes(router)

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	}
	if metrics != nil {
		chain = append(chain, metrics.MetricsMiddleware)
	}
	if redisClient != nil {
		rl := middleware.NewDistributedRateLimitMiddleware(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         cfg.RateLimit.RequestsPerMinute / 10,
		})
		chain = append(chain, rl.Handler)
	}
	chain = append(chain, audit.CaptureMiddleware(recorder))

	var handler http.Handler = httputil.Chain(chain...)(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "chronicle")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, db, redisClient, metrics, logger)

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return pool.Shutdown(cfg.Server.ShutdownTimeout / 2)
	})
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		if watcher != nil {
			watcher.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if err := store.Close(); err != nil {
			return err
		}
		if db != nil {
			return db.Close()
		}
		return nil
	})
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
	})

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// openStore builds the configured store. The returned *sql.DB is
// non-nil only for postgres, where the handle is shared with the
// health checker.
func openStore(cfg *config.Config, logger *observability.Logger) (audit.Store, *sql.DB, error) {
	switch cfg.Store.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Store.PostgresMaxConns)
		db.SetConnMaxLifetime(time.Hour)
		if err := db.Ping(); err != nil {
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		store, err := audit.NewPostgresStore(db)
		if err != nil {
			return nil, nil, err
		}
		return store, db, nil
	case "sqlite":
		store, err := audit.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "memory":
		logger.Warn("using in-memory audit store, records will not survive restarts")
		return audit.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}
}

func captureSource(cfg *config.Config, logger *observability.Logger) (audit.ConfigSource, *config.CaptureWatcher, error) {
	if cfg.Capture.ConfigFile == "" {
		return audit.StaticConfig(cfg.Capture.CaptureConfig()), nil, nil
	}
	watcher, err := config.NewCaptureWatcher(cfg.Capture, cfg.Capture.ConfigFile, logger)
	if err != nil {
		return nil, nil, err
	}
	return watcher.Source(), watcher, nil
}

func buildSweeper(ctx context.Context, cfg *config.Config, store audit.Store, logger *observability.Logger, metrics *observability.Metrics) (*audit.Sweeper, error) {
	var archiver audit.Archiver
	if cfg.Retention.ArchiveEnabled {
		s3Archiver, err := audit.NewS3Archiver(ctx, audit.S3ArchiveConfig{
			Bucket:    cfg.Retention.ArchiveBucket,
			Region:    cfg.Retention.ArchiveRegion,
			Endpoint:  cfg.Retention.ArchiveEndpoint,
			AccessKey: cfg.Retention.ArchiveAccessKey,
			SecretKey: cfg.Retention.ArchiveSecretKey,
			PathStyle: cfg.Retention.ArchivePathStyle,
			Prefix:    cfg.Retention.ArchivePrefix,
		})
		if err != nil {
			return nil, err
		}
		archiver = s3Archiver
	}
	return audit.NewSweeper(store, audit.SweeperOptions{
		Logger:    logger,
		Metrics:   metrics,
		Archiver:  archiver,
		BatchSize: cfg.Retention.BatchSize,
	}), nil
}

func startHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
		if db != nil {
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					metrics.CollectDBStats(db)
				}
			}()
		}
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	return healthServer
}
