// Command catalog-sync читает события справочников из Kafka и обновляет
// таблицы клиентов и товаров, по которым сервис заказов проверяет запросы.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/catalogsync"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/rediscache"
)

const (
	envKafkaBrokers = "ORDERS_KAFKA_BROKERS"
	envPostgresDSN  = "ORDERS_POSTGRES_DSN"
	envRedisAddr    = "ORDERS_REDIS_ADDR"

	defaultGroupID    = "ordersvc-catalog-sync"
	defaultMaxRetries = 3
)

type config struct {
	brokers    []string
	groupID    string
	topic      string
	dsn        string
	redisAddr  string
	maxRetries int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fail("catalog sync failed: %v", err)
	}
}

// readConfig разбирает флаги; пустые значения берутся из окружения.
func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("catalog-sync", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.groupID, "group", defaultGroupID, "consumer group id")
	fs.StringVar(&cfg.topic, "topic", kafka.TopicCatalogEvents, "catalog events topic")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.StringVar(&cfg.redisAddr, "redis", "", "Redis address of the customer cache to invalidate (fallback: "+envRedisAddr+")")
	fs.IntVar(&cfg.maxRetries, "max-retries", defaultMaxRetries, "attempts per message before DLQ")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	brokersRaw = withFallback(brokersRaw, envKafkaBrokers, lookup)
	cfg.dsn = withFallback(cfg.dsn, envPostgresDSN, lookup)
	cfg.redisAddr = withFallback(cfg.redisAddr, envRedisAddr, lookup)

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("postgres dsn is required (-dsn or %s)", envPostgresDSN)
	}
	if strings.TrimSpace(cfg.groupID) == "" {
		return config{}, errors.New("group is required")
	}
	if strings.TrimSpace(cfg.topic) == "" {
		return config{}, errors.New("topic is required")
	}
	if cfg.maxRetries <= 0 {
		return config{}, errors.New("max-retries must be > 0")
	}

	return cfg, nil
}

func withFallback(value, key string, lookup func(string) (string, bool)) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if v, ok := lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "catalog-sync")

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	var customers domain.CustomerRepository = store.Customers()
	if cfg.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		defer client.Close()
		customers = rediscache.NewCustomerCache(customers, client,
			rediscache.WithLogger(logger.WithField("layer", "customer-cache")),
		)
	}

	dlqProducer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		return fmt.Errorf("create dlq producer: %w", err)
	}
	defer dlqProducer.Close()

	handler := catalogsync.NewHandler(customers, store.Products(), logger)
	consumer, err := kafka.NewConsumer(cfg.brokers, cfg.groupID, []string{cfg.topic}, handler.Handle,
		kafka.WithConsumerLogger(logger.WithField("layer", "consumer")),
		kafka.WithDeadLetterProducer(dlqProducer),
		kafka.WithMaxAttempts(cfg.maxRetries),
	)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"topic": cfg.topic,
		"group": cfg.groupID,
	}).Info("catalog sync started")

	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop consumer")
	}
	logger.Info("catalog sync stopped")
	return ctx.Err()
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
