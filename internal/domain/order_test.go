package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	return domain.Order{
		ID:          "order-1",
		Customer:    domain.Customer{ID: "customer-1"},
		AmountMinor: 500,
		Lines: []domain.OrderLine{
			{ID: "line-1", ProductID: "product-1", Quantity: 5, PriceMinor: 100},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no customer",
			mut:  func(o *domain.Order) { o.Customer = domain.Customer{} },
			want: domain.ErrCustomerRequired,
		},
		{
			name: "negative amount",
			mut:  func(o *domain.Order) { o.AmountMinor = -1 },
			want: domain.ErrAmountNegative,
		},
		{
			name: "no lines",
			mut: func(o *domain.Order) {
				o.Lines = nil
				o.AmountMinor = 0
			},
			want: domain.ErrLinesRequired,
		},
		{
			name: "zero quantity",
			mut:  func(o *domain.Order) { o.Lines[0].Quantity = 0 },
			want: domain.ErrInvalidQuantity,
		},
		{
			name: "negative price",
			mut: func(o *domain.Order) {
				o.Lines[0].PriceMinor = -10
				o.AmountMinor = -50
			},
			want: domain.ErrLinePriceInvalid,
		},
		{
			name: "missing product id",
			mut:  func(o *domain.Order) { o.Lines[0].ProductID = "" },
			want: domain.ErrProductIDRequired,
		},
		{
			name: "amount overflow",
			mut: func(o *domain.Order) {
				o.Lines[0].PriceMinor = math.MaxInt64 / 2
				o.Lines[0].Quantity = 3
			},
			want: domain.ErrAmountOverflow,
		},
		{
			name: "amount mismatch",
			mut:  func(o *domain.Order) { o.AmountMinor = 499 },
			want: domain.ErrAmountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestCreateOrderRequest_ProductIDsDeduplicates(t *testing.T) {
	req := domain.CreateOrderRequest{
		CustomerID: "customer-1",
		Products: []domain.OrderLineRequest{
			{ProductID: "b", Quantity: 1},
			{ProductID: "a", Quantity: 2},
			{ProductID: "b", Quantity: 3},
		},
	}

	ids := req.ProductIDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	qty, err := req.RequestedQuantities()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty["b"] != 4 || qty["a"] != 2 {
		t.Fatalf("unexpected quantities: %v", qty)
	}
}

func TestCreateOrderRequest_RequestedQuantitiesOverflow(t *testing.T) {
	req := domain.CreateOrderRequest{
		CustomerID: "customer-1",
		Products: []domain.OrderLineRequest{
			{ProductID: "p-3", Quantity: math.MaxInt64},
			{ProductID: "p-1", Quantity: 1},
			{ProductID: "p-3", Quantity: 2},
			{ProductID: "p-3", Quantity: 5},
		},
	}

	qty, err := req.RequestedQuantities()
	orderErr, ok := domain.AsOrderError(err)
	if !ok {
		t.Fatalf("expected OrderError, got %v", err)
	}
	if orderErr.Kind != domain.ErrorKindProductNotAvailable {
		t.Fatalf("unexpected kind: %s", orderErr.Kind)
	}
	if len(orderErr.ProductIDs) != 1 || orderErr.ProductIDs[0] != "p-3" {
		t.Fatalf("unexpected product ids: %v", orderErr.ProductIDs)
	}
	if qty["p-3"] != math.MaxInt64 || qty["p-1"] != 1 {
		t.Fatalf("unexpected quantities: %v", qty)
	}
}

func TestLinesAmount(t *testing.T) {
	cases := []struct {
		name    string
		lines   []domain.OrderLine
		want    int64
		wantErr error
	}{
		{
			name:  "sum of lines",
			lines: []domain.OrderLine{{Quantity: 2, PriceMinor: 150}, {Quantity: 1, PriceMinor: 700}},
			want:  1000,
		},
		{
			name:  "max value fits",
			lines: []domain.OrderLine{{Quantity: 1, PriceMinor: math.MaxInt64}},
			want:  math.MaxInt64,
		},
		{
			name:    "line product overflows",
			lines:   []domain.OrderLine{{Quantity: math.MaxInt64, PriceMinor: 2}},
			wantErr: domain.ErrAmountOverflow,
		},
		{
			name:    "total overflows",
			lines:   []domain.OrderLine{{Quantity: 1, PriceMinor: math.MaxInt64}, {Quantity: 2, PriceMinor: 1}},
			wantErr: domain.ErrAmountOverflow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.LinesAmount(tc.lines)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestIndexProducts(t *testing.T) {
	index := domain.IndexProducts([]domain.Product{
		{ID: "p-1", PriceMinor: 100, Quantity: 1},
		{ID: "p-2", PriceMinor: 200, Quantity: 2},
	})

	if len(index) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(index))
	}
	if index["p-2"].PriceMinor != 200 {
		t.Fatalf("unexpected product: %+v", index["p-2"])
	}
}
