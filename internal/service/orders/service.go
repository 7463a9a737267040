// Package orders реализует сценарий оформления заказа: проверку клиента,
// наличия товаров и остатков, фиксацию цен и атомарное списание склада.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

const (
	stepValidate     = "validate"
	stepLoadCustomer = "load_customer"
	stepLoadProducts = "load_products"
	stepCheckStock   = "check_stock"
	stepPersist      = "persist"

	rejectReasonInternal = "internal"
)

// Creator — входная точка сценария для транспортного слоя.
type Creator interface {
	Execute(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error)
}

// CreateOrderService оформляет заказ.
type CreateOrderService struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	uow       domain.UnitOfWork

	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option настраивает CreateOrderService.
type Option func(*CreateOrderService)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *CreateOrderService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт набор метрик; nil отключает метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *CreateOrderService) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *CreateOrderService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов и позиций.
func WithIDGenerator(newID func() string) Option {
	return func(s *CreateOrderService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewCreateOrderService создаёт сервис. Шаги записи выполняются через uow.
func NewCreateOrderService(
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	uow domain.UnitOfWork,
	options ...Option,
) *CreateOrderService {
	s := &CreateOrderService{
		customers: customers,
		products:  products,
		uow:       uow,
		logger:    log.New().WithField("component", "create-order"),
		metrics:   metrics.NewOrderMetrics(),
		tracer:    otel.Tracer("ordersvc/service/orders"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Execute проверяет запрос и создаёт заказ. Бизнес-отказы возвращаются как
// *domain.OrderError, инфраструктурные ошибки возвращаются обёрнутыми.
// При любой ошибке ничего не записывается.
func (s *CreateOrderService) Execute(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	started := time.Now()
	if s.metrics != nil {
		s.metrics.RecordStarted()
		defer func() { s.metrics.RecordFinished(time.Since(started)) }()
	}

	ctx, span := s.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("order.customer_id", req.CustomerID),
		attribute.Int("order.lines", len(req.Products)),
	))
	defer span.End()

	logger := s.logger.WithField("customer_id", req.CustomerID)

	order, err := s.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if orderErr, ok := domain.AsOrderError(err); ok {
			s.recordRejected(string(orderErr.Kind))
			logger.WithFields(log.Fields{
				"reason":      orderErr.Kind,
				"product_ids": orderErr.ProductIDs,
			}).Warn("order rejected")
			return domain.Order{}, err
		}

		s.recordRejected(rejectReasonInternal)
		logger.WithError(err).Error("order creation failed")
		return domain.Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	if s.metrics != nil {
		s.metrics.RecordCreated(totalUnits(order.Lines))
	}
	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"lines":        len(order.Lines),
		"amount_minor": order.AmountMinor,
	}).Info("order created")

	return order, nil
}

func (s *CreateOrderService) execute(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	if err := s.runStep(ctx, stepValidate, func(context.Context) error {
		return validateQuantities(req)
	}); err != nil {
		return domain.Order{}, err
	}

	var customer domain.Customer
	if err := s.runStep(ctx, stepLoadCustomer, func(ctx context.Context) error {
		found, err := s.customers.FindByID(ctx, req.CustomerID)
		if err != nil {
			if errors.Is(err, domain.ErrCustomerNotFound) {
				return domain.NewCustomerNotFoundError()
			}
			return fmt.Errorf("find customer: %w", err)
		}
		customer = found
		return nil
	}); err != nil {
		return domain.Order{}, err
	}

	ids := req.ProductIDs()
	requested, quantityErr := req.RequestedQuantities()

	var catalog map[string]domain.Product
	if err := s.runStep(ctx, stepLoadProducts, func(ctx context.Context) error {
		found, err := s.products.FindAllByID(ctx, ids)
		if err != nil {
			return fmt.Errorf("find products: %w", err)
		}
		if len(found) == 0 {
			return domain.NewProductNotFoundError()
		}
		catalog = domain.IndexProducts(found)
		if missing := missingProducts(ids, catalog); len(missing) > 0 {
			return domain.NewProductsMissingError(missing)
		}
		return nil
	}); err != nil {
		return domain.Order{}, err
	}

	if err := s.runStep(ctx, stepCheckStock, func(context.Context) error {
		if quantityErr != nil {
			return quantityErr
		}
		if short := shortProducts(ids, requested, catalog); len(short) > 0 {
			return domain.NewProductNotAvailableError(short)
		}
		return nil
	}); err != nil {
		return domain.Order{}, err
	}

	order, err := s.buildOrder(customer, req, catalog)
	if err != nil {
		return domain.Order{}, err
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("build order: %w", errors.Join(errs...))
	}

	var created domain.Order
	if err := s.runStep(ctx, stepPersist, func(ctx context.Context) error {
		return s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			created, err = persist(ctx, tx, order, ids, requested)
			return err
		})
	}); err != nil {
		return domain.Order{}, err
	}

	return created, nil
}

// persist выполняет запись заказа и списание остатков в одной транзакции.
// Остатки пересчитываются по заблокированным строкам: проверка выше могла устареть.
func persist(ctx context.Context, tx domain.Tx, order domain.Order, ids []string, requested map[string]int64) (domain.Order, error) {
	locked, err := tx.Products().FindAllByIDForUpdate(ctx, ids)
	if err != nil {
		return domain.Order{}, fmt.Errorf("lock products: %w", err)
	}
	current := domain.IndexProducts(locked)
	if missing := missingProducts(ids, current); len(missing) > 0 {
		return domain.Order{}, domain.NewProductsMissingError(missing)
	}
	if short := shortProducts(ids, requested, current); len(short) > 0 {
		return domain.Order{}, domain.NewProductNotAvailableError(short)
	}

	created, err := tx.Orders().Create(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	updates := make([]domain.StockUpdate, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, domain.StockUpdate{
			ProductID: id,
			Quantity:  current[id].Quantity - requested[id],
		})
	}
	if err := tx.Products().UpdateQuantity(ctx, updates); err != nil {
		return domain.Order{}, fmt.Errorf("update stock: %w", err)
	}

	payload, err := json.Marshal(kafka.NewOrderCreatedEvent(created))
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal order event: %w", err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   created.ID,
		EventType:     string(kafka.EventTypeOrderCreated),
		Payload:       payload,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("enqueue order event: %w", err)
	}

	return created, nil
}

func (s *CreateOrderService) buildOrder(customer domain.Customer, req domain.CreateOrderRequest, catalog map[string]domain.Product) (domain.Order, error) {
	lines := make([]domain.OrderLine, 0, len(req.Products))
	for _, item := range req.Products {
		lines = append(lines, domain.OrderLine{
			ID:         s.newID(),
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: catalog[item.ProductID].PriceMinor,
		})
	}
	amount, err := domain.LinesAmount(lines)
	if err != nil {
		return domain.Order{}, domain.NewAmountOverflowError(req.ProductIDs())
	}

	return domain.Order{
		ID:          s.newID(),
		Customer:    customer,
		Lines:       lines,
		AmountMinor: amount,
		CreatedAt:   s.now().UTC(),
	}, nil
}

func (s *CreateOrderService) runStep(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "CreateOrder."+name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.RecordStepDuration(name, time.Since(started))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *CreateOrderService) recordRejected(reason string) {
	if s.metrics != nil {
		s.metrics.RecordRejected(reason)
	}
}

// validateQuantities отклоняет позиции с неположительным количеством до любых чтений.
func validateQuantities(req domain.CreateOrderRequest) error {
	var invalid []string
	seen := make(map[string]struct{})
	for _, item := range req.Products {
		if item.Quantity > 0 {
			continue
		}
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		invalid = append(invalid, item.ProductID)
	}
	if len(invalid) > 0 {
		return domain.NewInvalidQuantityError(invalid)
	}
	return nil
}

func missingProducts(ids []string, catalog map[string]domain.Product) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := catalog[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func shortProducts(ids []string, requested map[string]int64, catalog map[string]domain.Product) []string {
	var short []string
	for _, id := range ids {
		if requested[id] > catalog[id].Quantity {
			short = append(short, id)
		}
	}
	return short
}

func totalUnits(lines []domain.OrderLine) int64 {
	var units int64
	for _, line := range lines {
		units += line.Quantity
	}
	return units
}

var _ Creator = (*CreateOrderService)(nil)
