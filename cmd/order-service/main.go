package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/app"
)

const (
	envGRPCAddr                     = "ORDERS_GRPC_ADDR"
	envMetricsAddr                  = "ORDERS_METRICS_ADDR"
	envStorageDriver                = "ORDERS_STORAGE_DRIVER"
	envPostgresDSN                  = "ORDERS_POSTGRES_DSN"
	envPostgresAutoMigrate          = "ORDERS_POSTGRES_AUTO_MIGRATE"
	envSeedDemoData                 = "ORDERS_SEED_DEMO_DATA"
	envRedisAddr                    = "ORDERS_REDIS_ADDR"
	envCustomerCacheTTL             = "ORDERS_CUSTOMER_CACHE_TTL"
	envKafkaBrokers                 = "ORDERS_KAFKA_BROKERS"
	envOrderEventsTopic             = "ORDERS_ORDER_EVENTS_TOPIC"
	envOutboxPollInterval           = "ORDERS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize              = "ORDERS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts            = "ORDERS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay             = "ORDERS_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval   = "ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize  = "ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envIdempotencyCleanupMaxBatches = "ORDERS_IDEMPOTENCY_CLEANUP_MAX_BATCHES"
	envTracingEnabled               = "ORDERS_TRACING_ENABLED"
	envOTLPEndpoint                 = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения игнорируются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	readString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	readBool := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	readInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	readDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	readString(envGRPCAddr, &cfg.GRPCAddr)
	readString(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	readString(envPostgresDSN, &cfg.PostgresDSN)
	readBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	readBool(envSeedDemoData, &cfg.SeedDemoData)
	readString(envRedisAddr, &cfg.RedisAddr)
	readDuration(envCustomerCacheTTL, &cfg.CustomerCacheTTL, positive, "must be > 0")
	readString(envKafkaBrokers, &cfg.KafkaBrokers)
	readString(envOrderEventsTopic, &cfg.OrderEventsTopic)
	readDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	readInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	readInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	readDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")
	readDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	readInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	readInt(envIdempotencyCleanupMaxBatches, &cfg.IdempotencyCleanupMaxBatches)
	readBool(envTracingEnabled, &cfg.TracingEnabled)
	readString(envOTLPEndpoint, &cfg.OTLPEndpoint)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("invalid int value %d: %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("invalid duration value %s: %s", value, rule)
	}
	return value, nil
}

func main() {
	setupLogger()
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithError(warning).Warn("некорректная переменная окружения, используем значение по умолчанию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"customer_cache": cfg.RedisAddr != "",
		"kafka":          cfg.KafkaBrokers != "",
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
