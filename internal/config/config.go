// Package config loads and validates environment variables at startup.
// Fail-fast: a missing required variable or a malformed value is an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the reconciler service.
type Config struct {
	Port        string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers     []string // empty: deliveries are logged, not sent
	KafkaOutboxTopic string

	InventoryEndpoint string // empty: classify against the local offers table
	GoogleCredentials string

	NotifyRecipient      string
	DefaultBatchSize     int
	DefaultIntervalHours float64
	JobListPerPage       int

	ReconcileInterval  time.Duration
	DeliveryInterval   time.Duration
	DeliveryBatchLimit int
	SnapshotTTL        time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the optional .env file at envFile, then environment variables,
// and returns a validated Config. Variables already set in the environment
// win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	p := parser{}
	cfg := &Config{
		Port:        getEnv("RECONCILER_PORT", "8083"),
		GRPCPort:    getEnv("RECONCILER_GRPC_PORT", "9093"),
		DatabaseURL: dbURL,
		RedisURL:    redisURL,

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOutboxTopic: getEnv("KAFKA_OUTBOX_TOPIC", "email-outbox"),

		InventoryEndpoint: os.Getenv("INVENTORY_ENDPOINT"),
		GoogleCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),

		NotifyRecipient:      os.Getenv("NOTIFY_RECIPIENT"),
		DefaultBatchSize:     p.int("DEFAULT_BATCH_SIZE", 25),
		DefaultIntervalHours: p.float("DEFAULT_INTERVAL_HOURS", 24),
		JobListPerPage:       p.int("JOB_LIST_PER_PAGE", 500),

		ReconcileInterval:  p.duration("RECONCILE_INTERVAL", 5*time.Minute),
		DeliveryInterval:   p.duration("DELIVERY_INTERVAL", time.Minute),
		DeliveryBatchLimit: p.int("DELIVERY_BATCH_LIMIT", 50),
		SnapshotTTL:        p.duration("SNAPSHOT_TTL", 7*24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.DefaultBatchSize < 1 {
		return nil, fmt.Errorf("DEFAULT_BATCH_SIZE must be at least 1, got %d", cfg.DefaultBatchSize)
	}
	if cfg.DefaultIntervalHours < 0 {
		return nil, fmt.Errorf("DEFAULT_INTERVAL_HOURS must not be negative, got %v", cfg.DefaultIntervalHours)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error so Load can report it once.
type parser struct{ err error }

func (p *parser) int(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %q is not a number", key, raw)
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return v
}
