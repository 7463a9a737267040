package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type unitOfWorkInMemory struct {
	store *Store
}

// Do выполняет fn под эксклюзивной блокировкой записи. Изменения копятся
// в транзакции и применяются к Store только при успешном завершении fn.
func (u *unitOfWorkInMemory) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.store.writeMu.Lock()
	defer u.store.writeMu.Unlock()

	tx := &memoryTx{
		store:    u.store,
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// memoryTx буферизует записи до commit.
type memoryTx struct {
	store    *Store
	products map[string]domain.Product
	orders   map[string]domain.Order
	order    []string
	outbox   []domain.OutboxMessage
}

func (tx *memoryTx) Products() domain.ProductRepository { return &txProducts{tx: tx} }
func (tx *memoryTx) Orders() domain.OrderRepository     { return &txOrders{tx: tx} }
func (tx *memoryTx) Outbox() domain.OutboxRepository    { return &txOutbox{tx: tx} }

func (tx *memoryTx) commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for _, id := range tx.order {
		if _, exists := tx.store.orders[id]; exists {
			return fmt.Errorf("commit order %s: %w", id, domain.ErrOrderAlreadyExists)
		}
	}

	for id, product := range tx.products {
		tx.store.products[id] = product
	}
	for _, id := range tx.order {
		tx.store.orders[id] = tx.orders[id]
	}
	for _, msg := range tx.outbox {
		tx.store.enqueueOutboxLocked(msg)
	}
	return nil
}

type txProducts struct {
	tx *memoryTx
}

func (p *txProducts) FindAllByID(_ context.Context, ids []string) ([]domain.Product, error) {
	p.tx.store.mu.RLock()
	defer p.tx.store.mu.RUnlock()

	return p.tx.store.findProductsLocked(ids, p.tx.products), nil
}

// FindAllByIDForUpdate: блокировка уже удерживается на всё время транзакции.
func (p *txProducts) FindAllByIDForUpdate(ctx context.Context, ids []string) ([]domain.Product, error) {
	return p.FindAllByID(ctx, ids)
}

func (p *txProducts) UpdateQuantity(_ context.Context, updates []domain.StockUpdate) error {
	p.tx.store.mu.RLock()
	staged, err := p.tx.store.stageStockLocked(updates, p.tx.products)
	p.tx.store.mu.RUnlock()
	if err != nil {
		return err
	}

	for id, product := range staged {
		p.tx.products[id] = product
	}
	return nil
}

func (p *txProducts) Upsert(_ context.Context, product domain.Product) error {
	if err := validateProduct(product); err != nil {
		return err
	}
	p.tx.products[product.ID] = product
	return nil
}

type txOrders struct {
	tx *memoryTx
}

func (o *txOrders) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if _, err := o.Get(ctx, order.ID); err == nil {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}

	o.tx.orders[order.ID] = cloneOrder(order)
	o.tx.order = append(o.tx.order, order.ID)
	return cloneOrder(order), nil
}

func (o *txOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	if order, ok := o.tx.orders[id]; ok {
		return cloneOrder(order), nil
	}
	return o.tx.store.Orders().Get(ctx, id)
}

func (o *txOrders) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	return o.tx.store.Orders().ListByCustomer(ctx, customerID, limit)
}

type txOutbox struct {
	tx *memoryTx
}

func (o *txOutbox) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	o.tx.outbox = append(o.tx.outbox, cloneOutboxMessage(msg))
	return msg, nil
}

func (o *txOutbox) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return o.tx.store.Outbox().PullPending(ctx, limit)
}

func (o *txOutbox) Stats(ctx context.Context) (domain.OutboxStats, error) {
	return o.tx.store.Outbox().Stats(ctx)
}

func (o *txOutbox) MarkSent(ctx context.Context, id string) error {
	return o.tx.store.Outbox().MarkSent(ctx, id)
}

func (o *txOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.tx.store.Outbox().MarkFailed(ctx, id)
}

var _ domain.UnitOfWork = (*unitOfWorkInMemory)(nil)
