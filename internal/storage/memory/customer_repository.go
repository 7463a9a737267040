package memory

import (
	"context"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type customerRepositoryInMemory struct {
	store *Store
}

// FindByID возвращает клиента или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) FindByID(_ context.Context, id string) (domain.Customer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	customer, ok := r.store.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// Upsert сохраняет клиента, перезаписывая существующую запись.
func (r *customerRepositoryInMemory) Upsert(_ context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.ID) == "" {
		return domain.ErrCustomerRequired
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if customer.CreatedAt.IsZero() {
		if existing, ok := r.store.customers[customer.ID]; ok {
			customer.CreatedAt = existing.CreatedAt
		} else {
			customer.CreatedAt = time.Now().UTC()
		}
	}
	r.store.customers[customer.ID] = customer
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
