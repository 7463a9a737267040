package domain

import (
	"math"
	"time"
)

// OrderLineRequest — запрошенная клиентом позиция: товар и количество.
type OrderLineRequest struct {
	ProductID string
	Quantity  int64
}

// CreateOrderRequest — входные данные сценария оформления заказа.
type CreateOrderRequest struct {
	CustomerID string
	Products   []OrderLineRequest
}

// ProductIDs возвращает уникальные идентификаторы товаров в порядке запроса.
func (r CreateOrderRequest) ProductIDs() []string {
	seen := make(map[string]struct{}, len(r.Products))
	ids := make([]string, 0, len(r.Products))
	for _, line := range r.Products {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// RequestedQuantities суммирует запрошенное количество по каждому товару.
// Повторяющиеся позиции одного товара складываются. Если сумма по товару не
// помещается в int64, возвращается отказ product_not_available по этим товарам:
// такой остаток невозможен.
func (r CreateOrderRequest) RequestedQuantities() (map[string]int64, error) {
	result := make(map[string]int64, len(r.Products))
	var overflowed []string
	seen := make(map[string]struct{})
	for _, line := range r.Products {
		sum, ok := addInt64(result[line.ProductID], line.Quantity)
		if !ok {
			if _, dup := seen[line.ProductID]; !dup {
				seen[line.ProductID] = struct{}{}
				overflowed = append(overflowed, line.ProductID)
			}
			sum = math.MaxInt64
		}
		result[line.ProductID] = sum
	}
	if len(overflowed) > 0 {
		return result, NewProductNotAvailableError(overflowed)
	}
	return result, nil
}

// OrderLine — сохранённая позиция заказа.
type OrderLine struct {
	ID        string
	ProductID string
	Quantity  int64
	// PriceMinor — цена товара на момент оформления, дальше не меняется.
	PriceMinor int64
}

// Order агрегирует клиента и позиции заказа. После создания не изменяется.
type Order struct {
	ID          string
	Customer    Customer
	Lines       []OrderLine
	AmountMinor int64
	CreatedAt   time.Time
}

// CustomerID возвращает идентификатор клиента заказа.
func (o Order) CustomerID() string {
	return o.Customer.ID
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Customer.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if line.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	calc, err := LinesAmount(o.Lines)
	switch {
	case err != nil:
		errs = append(errs, err)
	case calc != o.AmountMinor:
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// LinesAmount считает сумму позиций в минорных единицах.
// При переполнении int64 возвращает ErrAmountOverflow.
func LinesAmount(lines []OrderLine) (int64, error) {
	var total int64
	for _, line := range lines {
		amount, ok := mulInt64(line.Quantity, line.PriceMinor)
		if !ok {
			return 0, ErrAmountOverflow
		}
		if total, ok = addInt64(total, amount); !ok {
			return 0, ErrAmountOverflow
		}
	}
	return total, nil
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, false
	}
	return c, true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}
