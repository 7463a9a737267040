// Package rediscache кэширует справочник клиентов в Redis.
// Остатки товаров не кэшируются: их читает только транзакция оформления.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultKeyPrefix = "orders:customer:"
)

// cachedCustomer — представление клиента в Redis.
type cachedCustomer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerCache — read-through декоратор CustomerRepository.
// Ошибки Redis не прерывают запрос: чтение уходит в основное хранилище.
// Отсутствующие клиенты не кэшируются.
type CustomerCache struct {
	next   domain.CustomerRepository
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *log.Entry
	group  singleflight.Group
}

// Option настраивает CustomerCache.
type Option func(*CustomerCache)

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(c *CustomerCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(c *CustomerCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *CustomerCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCustomerCache оборачивает next кэшем в Redis.
func NewCustomerCache(next domain.CustomerRepository, client redis.Cmdable, options ...Option) *CustomerCache {
	c := &CustomerCache{
		next:   next,
		client: client,
		ttl:    defaultTTL,
		prefix: defaultKeyPrefix,
		logger: log.New().WithField("component", "customer-cache"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// FindByID читает клиента из кэша, при промахе загружает его из next.
// Параллельные промахи по одному id схлопываются в одно чтение.
func (c *CustomerCache) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	key := c.key(id)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedCustomer
		if decodeErr := json.Unmarshal(raw, &cached); decodeErr == nil {
			return cached.toDomain(), nil
		}
		c.logger.WithField("key", key).Warn("corrupted cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("key", key).Warn("customer cache read failed")
	}

	value, err, _ := c.group.Do(id, func() (interface{}, error) {
		customer, err := c.next.FindByID(ctx, id)
		if err != nil {
			return domain.Customer{}, err
		}
		c.store(ctx, key, customer)
		return customer, nil
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return value.(domain.Customer), nil
}

// Upsert сохраняет клиента в next и сбрасывает запись кэша.
func (c *CustomerCache) Upsert(ctx context.Context, customer domain.Customer) error {
	if err := c.next.Upsert(ctx, customer); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.key(customer.ID)).Err(); err != nil {
		c.logger.WithError(err).WithField("customer_id", customer.ID).Warn("customer cache invalidation failed")
	}
	return nil
}

func (c *CustomerCache) store(ctx context.Context, key string, customer domain.Customer) {
	payload, err := json.Marshal(fromDomain(customer))
	if err != nil {
		c.logger.WithError(err).Warn("encode customer for cache")
		return
	}
	if err := c.client.Set(ctx, key, string(payload), c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("customer cache write failed")
	}
}

func (c *CustomerCache) key(id string) string {
	return c.prefix + id
}

func fromDomain(customer domain.Customer) cachedCustomer {
	return cachedCustomer{
		ID:        customer.ID,
		Name:      customer.Name,
		Email:     customer.Email,
		CreatedAt: customer.CreatedAt.UTC(),
	}
}

func (c cachedCustomer) toDomain() domain.Customer {
	return domain.Customer{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		CreatedAt: c.CreatedAt,
	}
}

// Ping проверяет доступность Redis для readiness-проверки.
func Ping(ctx context.Context, client redis.Cmdable) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

var _ domain.CustomerRepository = (*CustomerCache)(nil)
