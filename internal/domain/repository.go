package domain

import (
	"context"
	"time"
)

// CustomerRepository — справочник клиентов.
type CustomerRepository interface {
	// FindByID возвращает клиента или ErrCustomerNotFound.
	FindByID(ctx context.Context, id string) (Customer, error)
	// Upsert создаёт или обновляет клиента (синхронизация со справочником).
	Upsert(ctx context.Context, customer Customer) error
}

// ProductRepository — каталог товаров с остатками.
type ProductRepository interface {
	// FindAllByID возвращает найденные товары; отсутствующие id просто пропускаются.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// FindAllByIDForUpdate делает то же, но блокирует строки до конца транзакции.
	FindAllByIDForUpdate(ctx context.Context, ids []string) ([]Product, error)
	// UpdateQuantity применяет новые абсолютные значения остатков одним батчем.
	UpdateQuantity(ctx context.Context, updates []StockUpdate) error
	// Upsert создаёт или обновляет карточку товара.
	Upsert(ctx context.Context, product Product) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и возвращает сохранённую версию.
	// Возвращает ErrOrderAlreadyExists, если запись с таким ID уже есть.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; limit <= 0 — без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Tx — набор репозиториев, работающих внутри одной транзакции.
type Tx interface {
	Products() ProductRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
}

// UnitOfWork выполняет fn атомарно: либо применяются все записи, либо ни одна.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
