package app

import (
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/telemetry"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
// Все поля сравнимы: конфигурации можно сравнивать через ==.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedDemoData наполняет пустое in-memory хранилище демонстрационным каталогом.
	SeedDemoData bool

	// RedisAddr включает кэш клиентов; пустое значение отключает его.
	RedisAddr        string
	CustomerCacheTTL time.Duration

	// KafkaBrokers задаёт брокеров через запятую; пустое значение отключает публикацию outbox.
	KafkaBrokers     string
	OrderEventsTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	// IdempotencyCleanupMaxBatches ограничивает число DELETE за один проход очистки.
	IdempotencyCleanupMaxBatches int

	TracingEnabled bool
	OTLPEndpoint   string
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                     ":50051",
		MetricsAddr:                  ":9090",
		StorageDriver:                StorageDriverMemory,
		PostgresAutoMigrate:          true,
		CustomerCacheTTL:             5 * time.Minute,
		OrderEventsTopic:             kafka.TopicOrderEvents,
		OutboxPollInterval:           time.Second,
		OutboxBatchSize:              100,
		OutboxMaxAttempts:            3,
		OutboxRetryDelay:             50 * time.Millisecond,
		IdempotencyCleanupInterval:   time.Minute,
		IdempotencyCleanupBatchSize:  500,
		IdempotencyCleanupMaxBatches: 20,
		OTLPEndpoint:                 telemetry.DefaultOTLPEndpoint,
	}
}
