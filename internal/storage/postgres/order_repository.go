package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type orderRepository struct {
	q querier
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return store.Orders()
}

// Create сохраняет заказ вместе с позициями. Вне UnitOfWork открывает собственную транзакцию.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	err := inTx(ctx, r.q, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, amount_minor, created_at)
			VALUES ($1,$2,$3,$4)
		`, order.ID, order.Customer.ID, order.AmountMinor, order.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for position, line := range order.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (id, order_id, position, product_id, quantity, price_minor)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, line.ID, order.ID, position, line.ProductID, line.Quantity, line.PriceMinor); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var order domain.Order
	err := r.q.QueryRowContext(ctx, `
		SELECT o.id, o.amount_minor, o.created_at, c.id, c.name, c.email, c.created_at
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1
	`, id).Scan(
		&order.ID, &order.AmountMinor, &order.CreatedAt,
		&order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	normalizeOrderTimes(&order)

	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `
		SELECT o.id, o.amount_minor, o.created_at, c.id, c.name, c.email, c.created_at
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.customer_id = $1
		ORDER BY o.created_at DESC, o.id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID, &order.AmountMinor, &order.CreatedAt,
			&order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		normalizeOrderTimes(&order)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	// Закрываем курсор до догрузки позиций: внутри транзакции соединение одно.
	rows.Close()

	for i := range orders {
		lines, err := r.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}

	return orders, nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, quantity, price_minor
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return lines, nil
}

func normalizeOrderTimes(order *domain.Order) {
	order.CreatedAt = order.CreatedAt.UTC()
	order.Customer.CreatedAt = order.Customer.CreatedAt.UTC()
}

var _ domain.OrderRepository = (*orderRepository)(nil)
