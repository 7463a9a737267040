package integration

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	ordersv1 "github.com/vladislavdragonenkov/ordersvc/api/orders/v1"
	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/ordersvc/internal/service/grpc"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/orders"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

const bufSize = 1024 * 1024

// storage — набор репозиториев, поверх которого поднимается сервис.
type storage struct {
	customers   domain.CustomerRepository
	products    domain.ProductRepository
	orders      domain.OrderRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	uow         domain.UnitOfWork
}

func memoryStorage(*testing.T) storage {
	store := memory.NewStore()
	return storage{
		customers:   store.Customers(),
		products:    store.Products(),
		orders:      store.Orders(),
		outbox:      store.Outbox(),
		idempotency: memory.NewIdempotencyRepository(),
		uow:         store.UnitOfWork(),
	}
}

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "integration-test")
}

// startServer поднимает OrderService на bufconn и возвращает клиента.
func startServer(t *testing.T, st storage) ordersv1.OrderServiceClient {
	t.Helper()

	logger := testLogger()
	creator := orders.NewCreateOrderService(st.customers, st.products, st.uow,
		orders.WithLogger(logger),
		orders.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
	)
	service := grpcsvc.NewOrderService(creator, st.orders, st.idempotency, logger)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	ordersv1.RegisterOrderServiceServer(server, service)
	go func() {
		_ = server.Serve(listener)
	}()

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return ordersv1.NewOrderServiceClient(conn)
}

func withKey(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "idempotency-key", key)
}

func orderRequest(customerID string, lines ...*ordersv1.OrderLineRequest) *ordersv1.CreateOrderRequest {
	return &ordersv1.CreateOrderRequest{CustomerId: customerID, Products: lines}
}

func orderLine(productID string, qty int64) *ordersv1.OrderLineRequest {
	return &ordersv1.OrderLineRequest{ProductId: productID, Quantity: qty}
}
