package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ordersv1 "github.com/vladislavdragonenkov/ordersvc/api/orders/v1"
	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/orders"
)

// OrderService реализует gRPC API поверх сценария оформления заказа.
type OrderService struct {
	ordersv1.UnimplementedOrderServiceServer

	creator  orders.Creator
	repo     domain.OrderRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

const (
	grpcMethodCreateOrder = ordersv1.OrderService_CreateOrder_FullMethodName

	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 1000

	errorInfoDomain = "ordersvc"
)

// NewOrderService конструирует сервис с зависимостями. idemRepo может быть nil:
// тогда idempotency-key не требуется.
func NewOrderService(
	creator orders.Creator,
	repo domain.OrderRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		creator:  creator,
		repo:     repo,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder оформляет заказ.
func (s *OrderService) CreateOrder(ctx context.Context, req *ordersv1.CreateOrderRequest) (*ordersv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(
		s,
		ctx,
		grpcMethodCreateOrder,
		req,
		func() *ordersv1.CreateOrderResponse { return &ordersv1.CreateOrderResponse{} },
		func(ctx context.Context) (*ordersv1.CreateOrderResponse, error) {
			return s.createOrderInternal(ctx, req)
		},
	)
}

func (s *OrderService) createOrderInternal(ctx context.Context, req *ordersv1.CreateOrderRequest) (*ordersv1.CreateOrderResponse, error) {
	if strings.TrimSpace(req.GetCustomerId()) == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}

	lines := make([]domain.OrderLineRequest, 0, len(req.GetProducts()))
	for idx, item := range req.GetProducts() {
		if item == nil {
			return nil, status.Errorf(codes.InvalidArgument, "products[%d] is nil", idx)
		}
		if strings.TrimSpace(item.GetProductId()) == "" {
			return nil, status.Errorf(codes.InvalidArgument, "products[%d].product_id is required", idx)
		}
		lines = append(lines, domain.OrderLineRequest{
			ProductID: item.GetProductId(),
			Quantity:  item.GetQuantity(),
		})
	}

	order, err := s.creator.Execute(ctx, domain.CreateOrderRequest{
		CustomerID: req.GetCustomerId(),
		Products:   lines,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	return &ordersv1.CreateOrderResponse{Order: toAPIOrder(order)}, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *OrderService) GetOrder(ctx context.Context, req *ordersv1.GetOrderRequest) (*ordersv1.GetOrderResponse, error) {
	if strings.TrimSpace(req.GetOrderId()) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.repo.Get(ctx, req.GetOrderId())
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
		}
		s.logger.WithError(err).WithField("order_id", req.GetOrderId()).Error("failed to load order")
		return nil, status.Error(codes.Internal, "failed to load order")
	}

	return &ordersv1.GetOrderResponse{Order: toAPIOrder(order)}, nil
}

// ListOrders возвращает заказы клиента, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, req *ordersv1.ListOrdersRequest) (*ordersv1.ListOrdersResponse, error) {
	if strings.TrimSpace(req.GetCustomerId()) == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}

	limit := int(req.GetPageSize())
	switch {
	case limit <= 0:
		limit = defaultListOrdersLimit
	case limit > maxListOrdersLimit:
		limit = maxListOrdersLimit
	}

	list, err := s.repo.ListByCustomer(ctx, req.GetCustomerId(), limit)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", req.GetCustomerId()).Error("failed to list orders")
		return nil, status.Error(codes.Internal, "failed to list orders")
	}

	resp := &ordersv1.ListOrdersResponse{Orders: make([]*ordersv1.Order, 0, len(list))}
	for _, order := range list {
		resp.Orders = append(resp.Orders, toAPIOrder(order))
	}
	return resp, nil
}

// toStatusError переводит ошибку сценария в gRPC-статус. Бизнес-отказы
// несут ErrorInfo с видом отказа и товарами.
func toStatusError(err error) error {
	if orderErr, ok := domain.AsOrderError(err); ok {
		return orderErrorStatus(codeForKind(orderErr.Kind), string(orderErr.Kind), orderErr.Message, orderErr.ProductIDs)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	default:
		return status.Error(codes.Internal, "failed to create order")
	}
}

func orderErrorStatus(code codes.Code, reason, message string, productIDs []string) error {
	st := status.New(code, message)
	info := &errdetails.ErrorInfo{Reason: reason, Domain: errorInfoDomain}
	if len(productIDs) > 0 {
		info.Metadata = map[string]string{"product_ids": strings.Join(productIDs, ",")}
	}
	detailed, err := st.WithDetails(info)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

func codeForKind(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.ErrorKindCustomerNotFound, domain.ErrorKindProductNotFound, domain.ErrorKindProductsMissing:
		return codes.NotFound
	case domain.ErrorKindProductNotAvailable:
		return codes.FailedPrecondition
	case domain.ErrorKindInvalidRequest:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// errorInfo извлекает ErrorInfo из статуса, если он есть.
func errorInfo(st *status.Status) *errdetails.ErrorInfo {
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	return nil
}

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
	// idempotencyWriteTimeout ограничивает запись результата после отмены запроса клиентом.
	idempotencyWriteTimeout = 5 * time.Second
)

type idempotencyErrorPayload struct {
	Code       int32    `json:"code"`
	Message    string   `json:"message"`
	Reason     string   `json:"reason,omitempty"`
	ProductIDs []string `json:"product_ids,omitempty"`
}

func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	newResp func() T,
	handler func(context.Context) (T, error),
) (T, error) {
	var zero T

	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return zero, err
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record, newResp)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		return resp, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}

	return resp, nil
}

func replayIdempotency[T any](
	s *OrderService,
	createErr error,
	record domain.IdempotencyRecord,
	newResp func() T,
) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return zero, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return zero, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := newResp()
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return zero, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return zero, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return zero, decodeIdempotencyFailure(record)
		default:
			return zero, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

// idempotencyWriteContext отвязывает запись результата от отмены запроса:
// иначе ключ остаётся в processing до истечения TTL.
func idempotencyWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), idempotencyWriteTimeout)
}

func (s *OrderService) cacheIdempotencySuccess(ctx context.Context, key string, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	ctx, cancel := idempotencyWriteContext(ctx)
	defer cancel()
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *OrderService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload := idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	}
	if info := errorInfo(st); info != nil {
		payload.Reason = info.GetReason()
		if ids := info.GetMetadata()["product_ids"]; ids != "" {
			payload.ProductIDs = strings.Split(ids, ",")
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		body = nil
	}

	ctx, cancel := idempotencyWriteContext(ctx)
	defer cancel()
	if err := s.idemRepo.MarkFailed(ctx, key, body, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCodeFromInt32(payload.Code); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				if payload.Reason != "" {
					return orderErrorStatus(code, payload.Reason, payload.Message, payload.ProductIDs)
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if record.StatusCode > 0 {
		if code, ok := grpcCodeFromInt(record.StatusCode); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCodeFromInt32(value int32) (codes.Code, bool) {
	if value < int32(codes.OK) || value > int32(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

// buildIdempotencyRequestHash считает sha256 от метода и JSON запроса.
// encoding/json сериализует структуры детерминированно.
func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func toAPIOrder(order domain.Order) *ordersv1.Order {
	lines := make([]*ordersv1.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, &ordersv1.OrderLine{
			Id:         line.ID,
			ProductId:  line.ProductID,
			Quantity:   line.Quantity,
			PriceMinor: line.PriceMinor,
		})
	}

	return &ordersv1.Order{
		Id:          order.ID,
		CustomerId:  order.Customer.ID,
		Lines:       lines,
		AmountMinor: order.AmountMinor,
		CreatedAt:   order.CreatedAt,
	}
}
