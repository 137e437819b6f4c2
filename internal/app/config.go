package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	APIKey      string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers       string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	IdempotencyCleanupInterval time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		MetricsAddr:                ":9090",
		StorageDriver:              StorageDriverMemory,
		PostgresAutoMigrate:        true,
		KafkaConsumerGroup:         "wms-stock-feed",
		OutboxPollInterval:         time.Second,
		OutboxBatchSize:            100,
		IdempotencyCleanupInterval: 10 * time.Minute,
	}
}

// ConfigFromEnv читает настройки из окружения поверх значений по умолчанию.
// Все переменные имеют префикс WMS_.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("WMS_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WMS_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.APIKey = strings.TrimSpace(os.Getenv("WMS_API_KEY"))

	if v := strings.TrimSpace(os.Getenv("WMS_STORAGE_DRIVER")); v != "" {
		cfg.StorageDriver = strings.ToLower(v)
	}
	cfg.PostgresDSN = strings.TrimSpace(os.Getenv("WMS_POSTGRES_DSN"))
	if v := strings.TrimSpace(os.Getenv("WMS_POSTGRES_AUTO_MIGRATE")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WMS_POSTGRES_AUTO_MIGRATE: %w", err)
		}
		cfg.PostgresAutoMigrate = parsed
	}

	cfg.KafkaBrokers = strings.TrimSpace(os.Getenv("WMS_KAFKA_BROKERS"))
	if v := strings.TrimSpace(os.Getenv("WMS_KAFKA_CONSUMER_GROUP")); v != "" {
		cfg.KafkaConsumerGroup = v
	}

	if v := strings.TrimSpace(os.Getenv("WMS_OUTBOX_POLL_INTERVAL")); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WMS_OUTBOX_POLL_INTERVAL: %w", err)
		}
		cfg.OutboxPollInterval = interval
	}
	if v := strings.TrimSpace(os.Getenv("WMS_OUTBOX_BATCH_SIZE")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WMS_OUTBOX_BATCH_SIZE: %w", err)
		}
		cfg.OutboxBatchSize = size
	}
	if v := strings.TrimSpace(os.Getenv("WMS_IDEMPOTENCY_CLEANUP_INTERVAL")); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WMS_IDEMPOTENCY_CLEANUP_INTERVAL: %w", err)
		}
		cfg.IdempotencyCleanupInterval = interval
	}

	return cfg, cfg.Validate()
}

// Validate проверяет консистентность конфигурации.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("WMS_POSTGRES_DSN is required for postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if c.KafkaBrokers != "" && c.KafkaConsumerGroup == "" {
		return fmt.Errorf("kafka consumer group must not be empty when brokers are set")
	}

	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("outbox poll interval must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("outbox batch size must be positive")
	}
	if c.IdempotencyCleanupInterval <= 0 {
		return fmt.Errorf("idempotency cleanup interval must be positive")
	}

	return nil
}
