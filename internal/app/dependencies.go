package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersvc/internal/health"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/rediscache"
)

// runtimeDependencies — репозитории и ресурсы, которые живут всё время работы сервиса.
type runtimeDependencies struct {
	customers       domain.CustomerRepository
	products        domain.ProductRepository
	orders          domain.OrderRepository
	uow             domain.UnitOfWork
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.customers = store.Customers()
		deps.products = store.Products()
		deps.orders = store.Orders()
		deps.uow = store.UnitOfWork()
		deps.outboxRepo = store.Outbox()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		if cfg.SeedDemoData {
			if err := seedDemoCatalog(ctx, store.Customers(), store.Products()); err != nil {
				return nil, fmt.Errorf("seed demo catalog: %w", err)
			}
			logger.Info("demo catalog seeded")
		}
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.customers = store.Customers()
		deps.products = store.Products()
		deps.orders = store.Orders()
		deps.uow = store.UnitOfWork()
		deps.outboxRepo = store.Outbox()
		deps.idempotencyRepo = store.Idempotency()
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		deps.closers = append(deps.closers, client.Close)
		deps.customers = rediscache.NewCustomerCache(deps.customers, client,
			rediscache.WithTTL(cfg.CustomerCacheTTL),
			rediscache.WithLogger(logger.WithField("layer", "customer-cache")),
		)
		deps.checkers["redis"] = healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
			return rediscache.Ping(ctx, client)
		})
		logger.WithField("addr", addr).Info("customer cache enabled")
	}

	return deps, nil
}

// close освобождает ресурсы в обратном порядке.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
