package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated EventType = "order.created"

	// События справочников, которые читает catalog-sync
	EventTypeProductUpserted    EventType = "product.upserted"
	EventTypeCustomerRegistered EventType = "customer.registered"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "orders.order.events"
	TopicCatalogEvents   = "catalog.events"
	TopicDeadLetterQueue = "orders.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// OrderLineEvent — позиция заказа в событии.
type OrderLineEvent struct {
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType   EventType        `json:"event_type"`
	OrderID     string           `json:"order_id"`
	CustomerID  string           `json:"customer_id"`
	AmountMinor int64            `json:"amount_minor"`
	Lines       []OrderLineEvent `json:"lines"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewOrderCreatedEvent создаёт событие о созданном заказе.
func NewOrderCreatedEvent(order domain.Order) *OrderEvent {
	lines := make([]OrderLineEvent, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineEvent{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			PriceMinor: line.PriceMinor,
		})
	}
	return &OrderEvent{
		EventType:   EventTypeOrderCreated,
		OrderID:     order.ID,
		CustomerID:  order.Customer.ID,
		AmountMinor: order.AmountMinor,
		Lines:       lines,
		Timestamp:   order.CreatedAt,
	}
}

// CatalogEvent — событие справочника. Заполнено ровно одно из полей Product/Customer.
type CatalogEvent struct {
	EventType EventType     `json:"event_type"`
	Product   *ProductData  `json:"product,omitempty"`
	Customer  *CustomerData `json:"customer,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ProductData — карточка товара из каталога.
type ProductData struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Quantity   int64  `json:"quantity"`
}

// CustomerData — карточка клиента.
type CustomerData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
