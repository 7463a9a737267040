package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Все репозитории одного Store видят общие данные, а UnitOfWork
// применяет изменения атомарно.
type Store struct {
	// writeMu сериализует транзакции и прямые записи в каталог товаров.
	writeMu sync.Mutex
	// mu защищает сами данные.
	mu sync.RWMutex

	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    map[string]*outboxRecord
	outboxSeq int64
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		outbox:    make(map[string]*outboxRecord),
	}
}

// Customers возвращает репозиторий клиентов.
func (s *Store) Customers() domain.CustomerRepository {
	return &customerRepositoryInMemory{store: s}
}

// Products возвращает репозиторий каталога товаров.
func (s *Store) Products() domain.ProductRepository {
	return &productRepositoryInMemory{store: s}
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepositoryInMemory{store: s}
}

// Outbox возвращает outbox-репозиторий.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepositoryInMemory{store: s}
}

// PendingOutbox возвращает копию всех событий outbox в статусе pending.
func (s *Store) PendingOutbox() []domain.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.pendingOutboxLocked()
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, cloneOutboxMessage(rec.msg))
	}
	return result
}

// UnitOfWork возвращает транзакционную обёртку над хранилищем.
func (s *Store) UnitOfWork() domain.UnitOfWork {
	return &unitOfWorkInMemory{store: s}
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = append([]domain.OrderLine(nil), src.Lines...)
	return dst
}
