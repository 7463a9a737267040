package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

func TestUnitOfWork_PostgresCommitAndRollback(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	uow := store.UnitOfWork()
	ctx := context.Background()

	boom := errors.New("boom")
	err := uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Orders().Create(ctx, newIntegrationOrder("order-rollback", time.Now().UTC())); err != nil {
			return err
		}
		if err := tx.Products().UpdateQuantity(ctx, []domain.StockUpdate{{ProductID: "product-1", Quantity: 0}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Orders().Get(ctx, "order-rollback")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	products, err := store.Products().FindAllByID(ctx, []string{"product-1"})
	require.NoError(t, err)
	require.Equal(t, int64(10), products[0].Quantity)

	err = uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Orders().Create(ctx, newIntegrationOrder("order-commit", time.Now().UTC())); err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   "order-commit",
			EventType:     "order.created",
			Payload:       []byte(`{}`),
		}); err != nil {
			return err
		}
		return tx.Products().UpdateQuantity(ctx, []domain.StockUpdate{{ProductID: "product-1", Quantity: 8}})
	})
	require.NoError(t, err)

	_, err = store.Orders().Get(ctx, "order-commit")
	require.NoError(t, err)
	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
}

func TestUnitOfWork_PostgresLockedDecrementsDoNotOversell(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	uow := store.UnitOfWork()
	ctx := context.Background()

	const workers = 5 // product-2 has stock 3
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
				locked, err := tx.Products().FindAllByIDForUpdate(ctx, []string{"product-2"})
				if err != nil {
					return err
				}
				if locked[0].Quantity < 1 {
					return domain.ErrProductNotAvailable
				}
				return tx.Products().UpdateQuantity(ctx, []domain.StockUpdate{
					{ProductID: "product-2", Quantity: locked[0].Quantity - 1},
				})
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	products, err := store.Products().FindAllByID(ctx, []string{"product-2"})
	require.NoError(t, err)
	require.Equal(t, int64(0), products[0].Quantity)
}
