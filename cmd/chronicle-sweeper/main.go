package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

var (
	runOnce = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"retention_days": cfg.Retention.Days,
		"schedule":       cfg.Retention.Schedule,
		"archive":        cfg.Retention.ArchiveEnabled,
	}).Info("starting chronicle-sweeper")

	ctx := context.Background()

	store, db, err := openStore(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to open audit store")
		os.Exit(1)
	}
	defer func() {
		store.Close()
		if db != nil {
			db.Close()
		}
	}()

	metrics := observability.NewMetrics(nil)

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
			logger.WithError(err).Error("failed to initialize S3 archiver")
			os.Exit(1)
		}
		archiver = s3Archiver
	}

	sweeper := audit.NewSweeper(store, audit.SweeperOptions{
		Logger:    logger,
		Metrics:   metrics,
		Archiver:  archiver,
		BatchSize: cfg.Retention.BatchSize,
	})

	retention := time.Duration(cfg.Retention.Days) * 24 * time.Hour

	if *runOnce {
		deleted, err := sweeper.Sweep(ctx, retention)
		if err != nil {
			logger.WithError(err).Error("sweep failed")
			os.Exit(1)
		}
		logger.Infof("sweep removed %d records", deleted)
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Retention.Schedule, func() {
		deleted, err := sweeper.Sweep(context.Background(), retention)
		if err != nil {
			logger.WithError(err).Error("scheduled sweep failed")
			return
		}
		logger.Infof("scheduled sweep removed %d records", deleted)
	})
	if err != nil {
		logger.WithError(err).Errorf("invalid sweep schedule %q", cfg.Retention.Schedule)
		os.Exit(1)
	}

	c.Start()
	logger.Info("sweeper scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down sweeper")
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func openStore(cfg *config.Config) (audit.Store, *sql.DB, error) {
	switch cfg.Store.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
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
		return nil, nil, fmt.Errorf("memory store has nothing to sweep")
	default:
		return nil, nil, fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}
}
