package grpcsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ordersv1 "github.com/vladislavdragonenkov/ordersvc/api/orders/v1"
	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type stubCreator struct {
	executeFn func(domain.CreateOrderRequest) (domain.Order, error)
	requests  []domain.CreateOrderRequest
}

func (s *stubCreator) Execute(_ context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	s.requests = append(s.requests, req)
	if s.executeFn != nil {
		return s.executeFn(req)
	}
	return domain.Order{ID: "order-1", Customer: domain.Customer{ID: req.CustomerID}}, nil
}

type stubOrderRepository struct {
	getFn  func(string) (domain.Order, error)
	listFn func(string, int) ([]domain.Order, error)
}

func (s *stubOrderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	return order, nil
}

func (s *stubOrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(id)
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *stubOrderRepository) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	if s.listFn != nil {
		return s.listFn(customerID, limit)
	}
	return nil, nil
}

type stubIdempotencyRepository struct {
	createFn     func(string, string) (domain.IdempotencyRecord, error)
	markDoneFn   func(string, []byte, int) error
	markFailedFn func(string, []byte, int) error

	// markCtxErrs хранит ctx.Err() на момент вызова MarkDone/MarkFailed.
	markCtxErrs []error
}

func (s *stubIdempotencyRepository) CreateProcessing(_ context.Context, key, hash string, _ time.Time) (domain.IdempotencyRecord, error) {
	if s.createFn != nil {
		return s.createFn(key, hash)
	}
	return domain.IdempotencyRecord{Key: key, RequestHash: hash, Status: domain.IdempotencyStatusProcessing}, nil
}

func (s *stubIdempotencyRepository) Get(context.Context, string) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, errors.New("not implemented")
}

func (s *stubIdempotencyRepository) MarkDone(ctx context.Context, key string, body []byte, code int) error {
	s.markCtxErrs = append(s.markCtxErrs, ctx.Err())
	if s.markDoneFn != nil {
		return s.markDoneFn(key, body, code)
	}
	return nil
}

func (s *stubIdempotencyRepository) MarkFailed(ctx context.Context, key string, body []byte, code int) error {
	s.markCtxErrs = append(s.markCtxErrs, ctx.Err())
	if s.markFailedFn != nil {
		return s.markFailedFn(key, body, code)
	}
	return nil
}

func (s *stubIdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func newInternalTestService(creator *stubCreator, repo domain.OrderRepository) *OrderService {
	return NewOrderService(creator, repo, nil, log.New().WithField("test", "internal"))
}

func mustStatusCode(t *testing.T, err error, expected codes.Code) {
	t.Helper()
	if status.Code(err) != expected {
		t.Fatalf("expected code %s, got %s (err=%v)", expected, status.Code(err), err)
	}
}

func TestNewOrderService_NilLogger(t *testing.T) {
	service := NewOrderService(&stubCreator{}, &stubOrderRepository{}, nil, nil)
	if service.logger == nil {
		t.Fatal("logger must be initialized when nil logger is provided")
	}
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	creator := &stubCreator{}
	service := newInternalTestService(creator, &stubOrderRepository{})

	tests := []struct {
		name string
		req  *ordersv1.CreateOrderRequest
	}{
		{name: "nil request", req: nil},
		{name: "customer required", req: &ordersv1.CreateOrderRequest{Products: []*ordersv1.OrderLineRequest{{ProductId: "p", Quantity: 1}}}},
		{name: "nil line", req: &ordersv1.CreateOrderRequest{CustomerId: "c", Products: []*ordersv1.OrderLineRequest{nil}}},
		{name: "product id required", req: &ordersv1.CreateOrderRequest{CustomerId: "c", Products: []*ordersv1.OrderLineRequest{{Quantity: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateOrder(context.Background(), tt.req)
			mustStatusCode(t, err, codes.InvalidArgument)
		})
	}
	if len(creator.requests) != 0 {
		t.Fatalf("creator must not be called for invalid requests, got %d calls", len(creator.requests))
	}
}

func TestCreateOrder_PassesLinesInOrder(t *testing.T) {
	creator := &stubCreator{}
	service := newInternalTestService(creator, &stubOrderRepository{})

	_, err := service.CreateOrder(context.Background(), &ordersv1.CreateOrderRequest{
		CustomerId: "c-1",
		Products: []*ordersv1.OrderLineRequest{
			{ProductId: "p-2", Quantity: 1},
			{ProductId: "p-1", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := creator.requests[0]
	if got.CustomerID != "c-1" || len(got.Products) != 2 || got.Products[0].ProductID != "p-2" || got.Products[1].Quantity != 3 {
		t.Fatalf("unexpected domain request: %+v", got)
	}
}

func TestToStatusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "customer", err: domain.NewCustomerNotFoundError(), code: codes.NotFound},
		{name: "no products", err: domain.NewProductNotFoundError(), code: codes.NotFound},
		{name: "missing", err: domain.NewProductsMissingError([]string{"x"}), code: codes.NotFound},
		{name: "stock", err: domain.NewProductNotAvailableError([]string{"p"}), code: codes.FailedPrecondition},
		{name: "quantity", err: domain.NewInvalidQuantityError([]string{"p"}), code: codes.InvalidArgument},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "infrastructure", err: errors.New("db down"), code: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustStatusCode(t, toStatusError(tt.err), tt.code)
		})
	}

	st := status.Convert(toStatusError(domain.NewProductsMissingError([]string{"x-1", "x-2"})))
	if st.Message() != "products not found: x-1, x-2" {
		t.Fatalf("unexpected message: %s", st.Message())
	}
	info := errorInfo(st)
	if info == nil || info.GetReason() != string(domain.ErrorKindProductsMissing) || info.GetMetadata()["product_ids"] != "x-1,x-2" {
		t.Fatalf("unexpected error info: %+v", info)
	}
	if status.Convert(toStatusError(errors.New("secret dsn"))).Message() != "failed to create order" {
		t.Fatal("internal errors must not leak details")
	}
}

func TestListOrders_Branches(t *testing.T) {
	var gotLimit int
	repo := &stubOrderRepository{
		listFn: func(customerID string, limit int) ([]domain.Order, error) {
			gotLimit = limit
			if customerID == "broken" {
				return nil, errors.New("db down")
			}
			return []domain.Order{{ID: "o-1", Customer: domain.Customer{ID: customerID}}}, nil
		},
	}
	service := newInternalTestService(&stubCreator{}, repo)
	ctx := context.Background()

	resp, err := service.ListOrders(ctx, &ordersv1.ListOrdersRequest{CustomerId: "c-1"})
	if err != nil || len(resp.GetOrders()) != 1 {
		t.Fatalf("unexpected list result: %v %v", resp, err)
	}
	if gotLimit != defaultListOrdersLimit {
		t.Fatalf("expected default limit, got %d", gotLimit)
	}

	if _, err := service.ListOrders(ctx, &ordersv1.ListOrdersRequest{CustomerId: "c-1", PageSize: 5000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != maxListOrdersLimit {
		t.Fatalf("expected capped limit, got %d", gotLimit)
	}

	_, err = service.ListOrders(ctx, &ordersv1.ListOrdersRequest{CustomerId: "broken"})
	mustStatusCode(t, err, codes.Internal)
}

func TestGetOrder_ErrorMapping(t *testing.T) {
	repo := &stubOrderRepository{
		getFn: func(id string) (domain.Order, error) {
			if id == "broken" {
				return domain.Order{}, errors.New("db down")
			}
			return domain.Order{}, domain.ErrOrderNotFound
		},
	}
	service := newInternalTestService(&stubCreator{}, repo)

	_, err := service.GetOrder(context.Background(), &ordersv1.GetOrderRequest{OrderId: "missing"})
	mustStatusCode(t, err, codes.NotFound)

	_, err = service.GetOrder(context.Background(), &ordersv1.GetOrderRequest{OrderId: "broken"})
	mustStatusCode(t, err, codes.Internal)
}

func TestIdempotencyFailureHelpers(t *testing.T) {
	var gotKey string
	var gotPayload []byte
	var gotStatus int

	idem := &stubIdempotencyRepository{
		markFailedFn: func(key string, payload []byte, statusCode int) error {
			gotKey = key
			gotPayload = append([]byte(nil), payload...)
			gotStatus = statusCode
			return nil
		},
	}

	service := NewOrderService(&stubCreator{}, &stubOrderRepository{}, idem, log.New().WithField("test", "idempotency"))
	ctx := context.Background()

	service.cacheIdempotencyFailure(ctx, "idem-1", toStatusError(domain.NewProductNotAvailableError([]string{"p-1"})))
	if gotKey != "idem-1" {
		t.Fatalf("expected key idem-1, got %s", gotKey)
	}
	if gotStatus != int(codes.FailedPrecondition) {
		t.Fatalf("expected code %d, got %d", int(codes.FailedPrecondition), gotStatus)
	}

	replayed := decodeIdempotencyFailure(domain.IdempotencyRecord{ResponseBody: gotPayload})
	mustStatusCode(t, replayed, codes.FailedPrecondition)
	info := errorInfo(status.Convert(replayed))
	if info == nil || info.GetReason() != string(domain.ErrorKindProductNotAvailable) || info.GetMetadata()["product_ids"] != "p-1" {
		t.Fatalf("replayed status lost error info: %+v", info)
	}

	service.idemRepo = &stubIdempotencyRepository{
		markFailedFn: func(string, []byte, int) error { return errors.New("store failed") },
	}
	service.cacheIdempotencyFailure(ctx, "idem-2", nil)
}

func TestCreateOrder_IdempotencyResultSurvivesClientCancel(t *testing.T) {
	cases := []struct {
		name     string
		execErr  error
		wantDone bool
	}{
		{name: "failure after cancel", execErr: context.Canceled},
		{name: "success after cancel", wantDone: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(
				metadata.NewIncomingContext(context.Background(), metadata.Pairs(idempotencyKeyHeader, "idem-cancel")),
			)
			defer cancel()

			var doneCalls, failedCalls int
			idem := &stubIdempotencyRepository{
				markDoneFn: func(string, []byte, int) error {
					doneCalls++
					return nil
				},
				markFailedFn: func(string, []byte, int) error {
					failedCalls++
					return nil
				},
			}
			creator := &stubCreator{executeFn: func(req domain.CreateOrderRequest) (domain.Order, error) {
				cancel()
				if tc.execErr != nil {
					return domain.Order{}, tc.execErr
				}
				return domain.Order{ID: "order-1", Customer: domain.Customer{ID: req.CustomerID}}, nil
			}}
			service := NewOrderService(creator, &stubOrderRepository{}, idem, log.New().WithField("test", "cancel"))

			_, _ = service.CreateOrder(ctx, &ordersv1.CreateOrderRequest{
				CustomerId: "c-1",
				Products:   []*ordersv1.OrderLineRequest{{ProductId: "p-1", Quantity: 1}},
			})

			if ctx.Err() == nil {
				t.Fatal("expected request context to be canceled")
			}
			if tc.wantDone && doneCalls != 1 {
				t.Fatalf("expected MarkDone once, got %d", doneCalls)
			}
			if !tc.wantDone && failedCalls != 1 {
				t.Fatalf("expected MarkFailed once, got %d", failedCalls)
			}
			if len(idem.markCtxErrs) != 1 || idem.markCtxErrs[0] != nil {
				t.Fatalf("idempotency result written with canceled context: %v", idem.markCtxErrs)
			}
		})
	}
}

func TestDecodeIdempotencyFailure_Branches(t *testing.T) {
	err := decodeIdempotencyFailure(domain.IdempotencyRecord{
		ResponseBody: []byte(`{"code":3,"message":"payload mismatch"}`),
	})
	mustStatusCode(t, err, codes.InvalidArgument)
	if status.Convert(err).Message() != "payload mismatch" {
		t.Fatalf("unexpected message: %s", status.Convert(err).Message())
	}

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{
		ResponseBody: []byte(`{"code":0,"message":""}`),
	})
	mustStatusCode(t, err, codes.Internal)

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{
		ResponseBody: []byte("broken-json"),
		StatusCode:   int(codes.Aborted),
	})
	mustStatusCode(t, err, codes.Aborted)

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{
		ResponseBody: []byte("broken-json"),
		StatusCode:   int(codes.OK),
	})
	mustStatusCode(t, err, codes.Internal)
}

func TestReplayIdempotency_Branches(t *testing.T) {
	service := NewOrderService(&stubCreator{}, &stubOrderRepository{}, &stubIdempotencyRepository{}, nil)
	newResp := func() *ordersv1.CreateOrderResponse { return &ordersv1.CreateOrderResponse{} }

	resp, err := replayIdempotency(service, domain.ErrIdempotencyKeyAlreadyExists, domain.IdempotencyRecord{
		Status:       domain.IdempotencyStatusDone,
		ResponseBody: []byte(`{"order":{"id":"o-1"}}`),
	}, newResp)
	if err != nil || resp.GetOrder().GetId() != "o-1" {
		t.Fatalf("unexpected replay: %v %v", resp, err)
	}

	_, err = replayIdempotency(service, domain.ErrIdempotencyKeyAlreadyExists, domain.IdempotencyRecord{Status: domain.IdempotencyStatusDone}, newResp)
	mustStatusCode(t, err, codes.Internal)

	_, err = replayIdempotency(service, domain.ErrIdempotencyKeyAlreadyExists, domain.IdempotencyRecord{Status: domain.IdempotencyStatusProcessing}, newResp)
	mustStatusCode(t, err, codes.Aborted)

	_, err = replayIdempotency(service, domain.ErrIdempotencyHashMismatch, domain.IdempotencyRecord{}, newResp)
	mustStatusCode(t, err, codes.AlreadyExists)

	_, err = replayIdempotency(service, errors.New("db down"), domain.IdempotencyRecord{}, newResp)
	mustStatusCode(t, err, codes.Internal)
}

func TestBuildIdempotencyRequestHash(t *testing.T) {
	req := &ordersv1.CreateOrderRequest{CustomerId: "c-1", Products: []*ordersv1.OrderLineRequest{{ProductId: "p-1", Quantity: 1}}}

	first, err := buildIdempotencyRequestHash(grpcMethodCreateOrder, req)
	if err != nil || first == "" {
		t.Fatalf("build hash failed: %v", err)
	}
	second, _ := buildIdempotencyRequestHash(grpcMethodCreateOrder, req)
	if first != second {
		t.Fatal("hash must be deterministic")
	}

	req.Products[0].Quantity = 2
	changed, _ := buildIdempotencyRequestHash(grpcMethodCreateOrder, req)
	if changed == first {
		t.Fatal("hash must depend on payload")
	}

	if _, err := buildIdempotencyRequestHash(grpcMethodCreateOrder, nil); err == nil {
		t.Fatal("expected error for nil request")
	}
}
