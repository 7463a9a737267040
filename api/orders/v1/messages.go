// Package ordersv1 описывает gRPC API сервиса заказов.
//
// Сообщения передаются JSON-кодеком (content-subtype "json"), см. codec.go.
package ordersv1

import "time"

// OrderLineRequest — позиция в запросе на создание заказа.
type OrderLineRequest struct {
	ProductId string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (x *OrderLineRequest) GetProductId() string {
	if x == nil {
		return ""
	}
	return x.ProductId
}

func (x *OrderLineRequest) GetQuantity() int64 {
	if x == nil {
		return 0
	}
	return x.Quantity
}

// CreateOrderRequest — запрос на оформление заказа.
type CreateOrderRequest struct {
	CustomerId string              `json:"customer_id"`
	Products   []*OrderLineRequest `json:"products"`
}

func (x *CreateOrderRequest) GetCustomerId() string {
	if x == nil {
		return ""
	}
	return x.CustomerId
}

func (x *CreateOrderRequest) GetProducts() []*OrderLineRequest {
	if x == nil {
		return nil
	}
	return x.Products
}

// OrderLine — позиция созданного заказа с зафиксированной ценой.
type OrderLine struct {
	Id         string `json:"id"`
	ProductId  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

// Order — созданный заказ.
type Order struct {
	Id          string       `json:"id"`
	CustomerId  string       `json:"customer_id"`
	Lines       []*OrderLine `json:"lines"`
	AmountMinor int64        `json:"amount_minor"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (x *Order) GetId() string {
	if x == nil {
		return ""
	}
	return x.Id
}

func (x *Order) GetCustomerId() string {
	if x == nil {
		return ""
	}
	return x.CustomerId
}

func (x *Order) GetLines() []*OrderLine {
	if x == nil {
		return nil
	}
	return x.Lines
}

func (x *Order) GetAmountMinor() int64 {
	if x == nil {
		return 0
	}
	return x.AmountMinor
}

type CreateOrderResponse struct {
	Order *Order `json:"order"`
}

func (x *CreateOrderResponse) GetOrder() *Order {
	if x == nil {
		return nil
	}
	return x.Order
}

type GetOrderRequest struct {
	OrderId string `json:"order_id"`
}

func (x *GetOrderRequest) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x == nil {
		return nil
	}
	return x.Order
}

// ListOrdersRequest — заказы клиента, новые первыми.
type ListOrdersRequest struct {
	CustomerId string `json:"customer_id"`
	PageSize   int32  `json:"page_size"`
}

func (x *ListOrdersRequest) GetCustomerId() string {
	if x == nil {
		return ""
	}
	return x.CustomerId
}

func (x *ListOrdersRequest) GetPageSize() int32 {
	if x == nil {
		return 0
	}
	return x.PageSize
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

func (x *ListOrdersResponse) GetOrders() []*Order {
	if x == nil {
		return nil
	}
	return x.Orders
}
