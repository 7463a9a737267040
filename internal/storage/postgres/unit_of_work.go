package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type unitOfWork struct {
	db *sql.DB
}

// Do открывает транзакцию READ COMMITTED и передаёт в fn репозитории, привязанные к ней.
// Ошибка fn или паника откатывают транзакцию.
func (u *unitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	sqlTx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &txRepositories{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txRepositories struct {
	tx *sql.Tx
}

func (t *txRepositories) Products() domain.ProductRepository { return &productRepository{q: t.tx} }
func (t *txRepositories) Orders() domain.OrderRepository     { return &orderRepository{q: t.tx} }
func (t *txRepositories) Outbox() domain.OutboxRepository    { return &outboxRepository{q: t.tx} }

var _ domain.UnitOfWork = (*unitOfWork)(nil)
