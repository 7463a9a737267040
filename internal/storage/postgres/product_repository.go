package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type productRepository struct {
	q querier
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return store.Products()
}

func (r *productRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	return r.find(ctx, ids, false)
}

// FindAllByIDForUpdate блокирует строки товаров до конца текущей транзакции.
// Строки блокируются в порядке id, чтобы параллельные заказы не ловили deadlock.
func (r *productRepository) FindAllByIDForUpdate(ctx context.Context, ids []string) ([]domain.Product, error) {
	return r.find(ctx, ids, true)
}

func (r *productRepository) find(ctx context.Context, ids []string, forUpdate bool) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, name, price_minor, quantity, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := r.q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	found := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.Name, &product.PriceMinor, &product.Quantity, &product.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		product.UpdatedAt = product.UpdatedAt.UTC()
		found[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	// Сохраняем порядок запроса, как и in-memory реализация.
	result := make([]domain.Product, 0, len(found))
	for _, id := range ids {
		product, ok := found[id]
		if !ok {
			continue
		}
		result = append(result, product)
		delete(found, id)
	}

	return result, nil
}

// UpdateQuantity записывает абсолютные остатки одним батчем в одной транзакции.
func (r *productRepository) UpdateQuantity(ctx context.Context, updates []domain.StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for _, update := range updates {
		if update.Quantity < 0 {
			return fmt.Errorf("update quantity for %s: %w", update.ProductID, domain.ErrStockNegative)
		}
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	ids := make([]string, 0, len(updates))
	quantities := make([]int64, 0, len(updates))
	for _, update := range updates {
		ids = append(ids, update.ProductID)
		quantities = append(quantities, update.Quantity)
	}

	return inTx(ctx, r.q, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE products AS p
			SET quantity = u.quantity,
			    updated_at = $3
			FROM UNNEST($1::text[], $2::bigint[]) AS u(id, quantity)
			WHERE p.id = u.id
		`, ids, quantities, time.Now().UTC())
		if err != nil {
			if isCheckViolation(err) {
				return domain.ErrStockNegative
			}
			return fmt.Errorf("update product quantities: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if int(affected) != countDistinct(ids) {
			return fmt.Errorf("update product quantities: %w", domain.ErrProductNotFound)
		}
		return nil
	})
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return domain.ErrProductIDRequired
	}
	if product.PriceMinor < 0 {
		return domain.ErrLinePriceInvalid
	}
	if product.Quantity < 0 {
		return domain.ErrStockNegative
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, quantity, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    quantity = EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.PriceMinor, product.Quantity, product.UpdatedAt); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	return nil
}

func countDistinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

var _ domain.ProductRepository = (*productRepository)(nil)
