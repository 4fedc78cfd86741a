package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"offerwall/reconciler-service/internal/candidates"
	"offerwall/reconciler-service/internal/config"
	"offerwall/reconciler-service/internal/db"
	"offerwall/reconciler-service/internal/delivery"
	"offerwall/reconciler-service/internal/httpapi"
	"offerwall/reconciler-service/internal/inventory"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/logger"
	"offerwall/reconciler-service/internal/reconciler"
	"offerwall/reconciler-service/internal/statecache"
)

// app holds everything a command needs, wired from config.
type app struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	rdb    *redis.Client
	jobs   *jobstore.Store
	svc    *reconciler.Service
	worker *delivery.Worker
	sheets *candidates.SheetsReader // nil when no credentials are configured
	closer func() error
}

// newApp loads config, connects to PostgreSQL and Redis and builds the
// service graph.
func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.New(logger.ParseConfig(cfg.LogLevel, cfg.LogFormat))

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &app{cfg: cfg, pool: pool, rdb: rdb, closer: func() error { return nil }}

	var sender delivery.Sender = delivery.LogSender{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := delivery.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			a.Close()
			return nil, err
		}
		ks := delivery.NewKafkaSender(producer, cfg.KafkaOutboxTopic)
		sender = ks
		a.closer = ks.Close
	} else {
		slog.Warn("KAFKA_BROKERS not set, deliveries are logged only")
	}

	var classifier reconciler.Classifier
	if cfg.InventoryEndpoint != "" {
		classifier = inventory.NewRemoteClassifier(cfg.InventoryEndpoint)
	} else {
		classifier = inventory.NewLocalClassifier(inventory.NewStore(pool))
	}

	if cfg.GoogleCredentials != "" {
		a.sheets, err = candidates.NewSheetsReader(ctx, cfg.GoogleCredentials)
		if err != nil {
			slog.Warn("Google Sheets import disabled", "err", err)
		}
	}

	a.jobs = jobstore.NewStore(pool, rdb)
	a.worker = delivery.NewWorker(a.jobs, sender, cfg.DeliveryBatchLimit)
	a.svc = reconciler.New(classifier, a.jobs, statecache.New(rdb, cfg.SnapshotTTL),
		reconciler.Defaults{
			Recipient:     cfg.NotifyRecipient,
			BatchSize:     cfg.DefaultBatchSize,
			IntervalHours: cfg.DefaultIntervalHours,
			JobsPerPage:   cfg.JobListPerPage,
		},
		reconciler.WithDeliverer(a.worker),
	)
	return a, nil
}

// sheetReader returns the configured reader, or a nil interface.
func (a *app) sheetReader() httpapi.SheetReader {
	if a.sheets == nil {
		return nil
	}
	return a.sheets
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if err := a.closer(); err != nil {
		slog.Warn("close kafka producer", "err", err)
	}
	a.rdb.Close()
	a.pool.Close()
}
