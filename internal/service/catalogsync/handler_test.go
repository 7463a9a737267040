package catalogsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

func newMessage(t *testing.T, event kafka.CatalogEvent, headers ...*sarama.RecordHeader) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic:   kafka.TopicCatalogEvents,
		Value:   value,
		Headers: headers,
	}
}

func TestHandler_ProductUpserted(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	err := handler.Handle(context.Background(), newMessage(t, kafka.CatalogEvent{
		EventType: kafka.EventTypeProductUpserted,
		Product:   &kafka.ProductData{ID: "p-1", Name: "Keyboard", PriceMinor: 1500, Quantity: 7},
		Timestamp: ts,
	}))
	require.NoError(t, err)

	products, err := store.Products().FindAllByID(context.Background(), []string{"p-1"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, int64(1500), products[0].PriceMinor)
	require.Equal(t, int64(7), products[0].Quantity)
	require.True(t, ts.Equal(products[0].UpdatedAt))
}

func TestHandler_CustomerRegistered(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)

	err := handler.Handle(context.Background(), newMessage(t, kafka.CatalogEvent{
		EventType: kafka.EventTypeCustomerRegistered,
		Customer:  &kafka.CustomerData{ID: "c-1", Name: "Alice", Email: "alice@example.com"},
	}))
	require.NoError(t, err)

	customer, err := store.Customers().FindByID(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", customer.Email)
	require.False(t, customer.CreatedAt.IsZero())
}

func TestHandler_EventTypeFromHeader(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)

	msg := newMessage(t, kafka.CatalogEvent{
		Customer: &kafka.CustomerData{ID: "c-2", Name: "Bob"},
	}, &sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte(kafka.EventTypeCustomerRegistered)})

	require.NoError(t, handler.Handle(context.Background(), msg))
	_, err := store.Customers().FindByID(context.Background(), "c-2")
	require.NoError(t, err)
}

func TestHandler_UnknownEventIsSkipped(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)

	err := handler.Handle(context.Background(), newMessage(t, kafka.CatalogEvent{EventType: "warehouse.moved"}))
	require.NoError(t, err)
}

func TestHandler_InvalidPayloads(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)

	tests := []struct {
		name  string
		event kafka.CatalogEvent
	}{
		{name: "product without payload", event: kafka.CatalogEvent{EventType: kafka.EventTypeProductUpserted}},
		{name: "product without id", event: kafka.CatalogEvent{EventType: kafka.EventTypeProductUpserted, Product: &kafka.ProductData{Name: "x"}}},
		{name: "customer without payload", event: kafka.CatalogEvent{EventType: kafka.EventTypeCustomerRegistered}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler.Handle(context.Background(), newMessage(t, tt.event))
			require.ErrorIs(t, err, ErrInvalidEvent)
			require.ErrorIs(t, err, kafka.ErrNonRetryable)
		})
	}
}

func TestHandler_RepositoryErrorIsReturned(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)

	err := handler.Handle(context.Background(), newMessage(t, kafka.CatalogEvent{
		EventType: kafka.EventTypeProductUpserted,
		Product:   &kafka.ProductData{ID: "p-1", Quantity: -1},
	}))
	require.ErrorIs(t, err, domain.ErrStockNegative)
	require.NotErrorIs(t, err, kafka.ErrNonRetryable)
}

func TestHandler_MalformedJSON(t *testing.T) {
	store := memory.NewStore()
	handler := NewHandler(store.Customers(), store.Products(), nil)

	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
	require.ErrorIs(t, err, kafka.ErrNonRetryable)
}
