package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка пустого идентификатора товара в позиции.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match lines sum")
	// ErrAmountOverflow: сумма заказа не помещается в int64.
	ErrAmountOverflow = errors.New("order amount overflows int64")

	// ErrCustomerNotFound: клиент с указанным идентификатором не существует.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound: ни один из запрошенных товаров не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductsMissing: часть запрошенных товаров отсутствует в каталоге.
	ErrProductsMissing = errors.New("products not found")
	// ErrProductNotAvailable: запрошенное количество превышает остаток.
	ErrProductNotAvailable = errors.New("product not available")
	// ErrInvalidQuantity: количество в позиции должно быть больше нуля.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// ErrStockNegative: остаток товара не может стать отрицательным.
	ErrStockNegative = errors.New("stock quantity must be non-negative")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind классифицирует бизнес-отказ сценария оформления заказа.
type ErrorKind string

const (
	ErrorKindCustomerNotFound    ErrorKind = "customer_not_found"
	ErrorKindProductNotFound     ErrorKind = "product_not_found"
	ErrorKindProductsMissing     ErrorKind = "products_missing"
	ErrorKindProductNotAvailable ErrorKind = "product_not_available"
	ErrorKindInvalidRequest      ErrorKind = "invalid_request"
)

// OrderError — отказ в оформлении заказа с человекочитаемым сообщением.
// ProductIDs заполняется для отказов, связанных с конкретными товарами.
type OrderError struct {
	Kind       ErrorKind
	Message    string
	ProductIDs []string
}

func (e *OrderError) Error() string {
	return e.Message
}

// Is позволяет сравнивать OrderError с sentinel-ошибкой своего вида через errors.Is.
func (e *OrderError) Is(target error) bool {
	if target == ErrAmountOverflow {
		return e.Message == ErrAmountOverflow.Error()
	}
	return kindSentinel(e.Kind) == target
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case ErrorKindCustomerNotFound:
		return ErrCustomerNotFound
	case ErrorKindProductNotFound:
		return ErrProductNotFound
	case ErrorKindProductsMissing:
		return ErrProductsMissing
	case ErrorKindProductNotAvailable:
		return ErrProductNotAvailable
	case ErrorKindInvalidRequest:
		return ErrInvalidQuantity
	default:
		return nil
	}
}

// NewCustomerNotFoundError формирует отказ для неизвестного клиента.
func NewCustomerNotFoundError() *OrderError {
	return &OrderError{Kind: ErrorKindCustomerNotFound, Message: ErrCustomerNotFound.Error()}
}

// NewProductNotFoundError формирует отказ, когда каталог не вернул ни одного товара.
func NewProductNotFoundError() *OrderError {
	return &OrderError{Kind: ErrorKindProductNotFound, Message: ErrProductNotFound.Error()}
}

// NewProductsMissingError перечисляет в сообщении отсутствующие товары.
func NewProductsMissingError(ids []string) *OrderError {
	return &OrderError{
		Kind:       ErrorKindProductsMissing,
		Message:    fmt.Sprintf("%s: %s", ErrProductsMissing.Error(), strings.Join(ids, ", ")),
		ProductIDs: append([]string(nil), ids...),
	}
}

// NewProductNotAvailableError формирует отказ из-за нехватки остатка.
func NewProductNotAvailableError(ids []string) *OrderError {
	return &OrderError{
		Kind:       ErrorKindProductNotAvailable,
		Message:    ErrProductNotAvailable.Error(),
		ProductIDs: append([]string(nil), ids...),
	}
}

// NewInvalidQuantityError формирует отказ для позиций с неположительным количеством.
func NewInvalidQuantityError(ids []string) *OrderError {
	return &OrderError{
		Kind:       ErrorKindInvalidRequest,
		Message:    ErrInvalidQuantity.Error(),
		ProductIDs: append([]string(nil), ids...),
	}
}

// NewAmountOverflowError формирует отказ, когда сумма заказа не представима.
func NewAmountOverflowError(ids []string) *OrderError {
	return &OrderError{
		Kind:       ErrorKindInvalidRequest,
		Message:    ErrAmountOverflow.Error(),
		ProductIDs: append([]string(nil), ids...),
	}
}

// AsOrderError извлекает OrderError из цепочки ошибок.
func AsOrderError(err error) (*OrderError, bool) {
	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return orderErr, true
	}
	return nil, false
}
