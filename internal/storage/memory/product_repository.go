package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// productRepositoryInMemory работает напрямую с данными Store.
type productRepositoryInMemory struct {
	store *Store
}

// FindAllByID возвращает найденные товары в порядке ids, пропуская отсутствующие.
func (r *productRepositoryInMemory) FindAllByID(_ context.Context, ids []string) ([]domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.findProductsLocked(ids, nil), nil
}

// FindAllByIDForUpdate вне транзакции эквивалентен FindAllByID.
func (r *productRepositoryInMemory) FindAllByIDForUpdate(ctx context.Context, ids []string) ([]domain.Product, error) {
	return r.FindAllByID(ctx, ids)
}

// UpdateQuantity применяет новые остатки атомарно: при ошибке ничего не меняется.
func (r *productRepositoryInMemory) UpdateQuantity(_ context.Context, updates []domain.StockUpdate) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	staged, err := r.store.stageStockLocked(updates, nil)
	if err != nil {
		return err
	}
	for id, product := range staged {
		r.store.products[id] = product
	}
	return nil
}

// Upsert создаёт или обновляет карточку товара.
func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) error {
	if err := validateProduct(product); err != nil {
		return err
	}

	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	r.store.products[product.ID] = product
	return nil
}

// findProductsLocked читает товары с учётом незакоммиченных изменений транзакции.
func (s *Store) findProductsLocked(ids []string, overrides map[string]domain.Product) []domain.Product {
	result := make([]domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if product, ok := overrides[id]; ok {
			result = append(result, product)
			continue
		}
		if product, ok := s.products[id]; ok {
			result = append(result, product)
		}
	}
	return result
}

// stageStockLocked проверяет обновления и возвращает изменённые карточки, не применяя их.
func (s *Store) stageStockLocked(updates []domain.StockUpdate, overrides map[string]domain.Product) (map[string]domain.Product, error) {
	now := time.Now().UTC()
	staged := make(map[string]domain.Product, len(updates))
	for _, update := range updates {
		if update.Quantity < 0 {
			return nil, fmt.Errorf("update quantity for %s: %w", update.ProductID, domain.ErrStockNegative)
		}

		product, ok := staged[update.ProductID]
		if !ok {
			product, ok = overrides[update.ProductID]
		}
		if !ok {
			product, ok = s.products[update.ProductID]
		}
		if !ok {
			return nil, fmt.Errorf("update quantity for %s: %w", update.ProductID, domain.ErrProductNotFound)
		}

		product.Quantity = update.Quantity
		product.UpdatedAt = now
		staged[update.ProductID] = product
	}
	return staged, nil
}

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return domain.ErrProductIDRequired
	}
	if product.PriceMinor < 0 {
		return domain.ErrLinePriceInvalid
	}
	if product.Quantity < 0 {
		return domain.ErrStockNegative
	}
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
