// Package catalogsync поддерживает локальные копии справочников товаров и
// клиентов по событиям из топика catalog.events.
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
)

var (
	// ErrInvalidEvent: событие не содержит обязательных данных.
	ErrInvalidEvent = errors.New("invalid catalog event")
	// ErrUnsupportedEvent: тип события не обрабатывается сервисом.
	ErrUnsupportedEvent = errors.New("unsupported catalog event")
)

var catalogEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orders_catalog_sync_events_total",
	Help: "Total number of catalog events processed grouped by type and result.",
}, []string{"event_type", "result"})

// Handler применяет события справочников к репозиториям.
type Handler struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	logger    *log.Entry
}

// NewHandler создаёт обработчик. logger может быть nil.
func NewHandler(customers domain.CustomerRepository, products domain.ProductRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "catalog-sync")
	}
	return &Handler{customers: customers, products: products, logger: logger}
}

// Handle соответствует kafka.MessageHandler.
// Неизвестные типы событий пропускаются без ошибки.
func (h *Handler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseCatalogEvent(message)
	if err != nil {
		catalogEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		return err
	}

	err = h.Apply(ctx, event)
	switch {
	case err == nil:
		catalogEventsTotal.WithLabelValues(string(event.EventType), "applied").Inc()
	case errors.Is(err, ErrUnsupportedEvent):
		catalogEventsTotal.WithLabelValues(string(event.EventType), "skipped").Inc()
		h.logger.WithFields(log.Fields{
			"event_type": event.EventType,
			"offset":     message.Offset,
		}).Debug("catalog event skipped")
		return nil
	case errors.Is(err, ErrInvalidEvent):
		catalogEventsTotal.WithLabelValues(string(event.EventType), "invalid").Inc()
		return kafka.NonRetryable(err)
	default:
		catalogEventsTotal.WithLabelValues(string(event.EventType), "failed").Inc()
	}
	return err
}

// Apply применяет разобранное событие.
func (h *Handler) Apply(ctx context.Context, event *kafka.CatalogEvent) error {
	switch event.EventType {
	case kafka.EventTypeProductUpserted:
		if event.Product == nil || strings.TrimSpace(event.Product.ID) == "" {
			return fmt.Errorf("%w: product payload is required", ErrInvalidEvent)
		}
		product := domain.Product{
			ID:         event.Product.ID,
			Name:       event.Product.Name,
			PriceMinor: event.Product.PriceMinor,
			Quantity:   event.Product.Quantity,
			UpdatedAt:  eventTime(event.Timestamp),
		}
		if err := h.products.Upsert(ctx, product); err != nil {
			return fmt.Errorf("upsert product %s: %w", product.ID, err)
		}
		h.logger.WithField("product_id", product.ID).Info("product synced")
		return nil

	case kafka.EventTypeCustomerRegistered:
		if event.Customer == nil || strings.TrimSpace(event.Customer.ID) == "" {
			return fmt.Errorf("%w: customer payload is required", ErrInvalidEvent)
		}
		customer := domain.Customer{
			ID:        event.Customer.ID,
			Name:      event.Customer.Name,
			Email:     event.Customer.Email,
			CreatedAt: eventTime(event.Timestamp),
		}
		if err := h.customers.Upsert(ctx, customer); err != nil {
			return fmt.Errorf("upsert customer %s: %w", customer.ID, err)
		}
		h.logger.WithField("customer_id", customer.ID).Info("customer synced")
		return nil

	default:
		return ErrUnsupportedEvent
	}
}

func eventTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}
