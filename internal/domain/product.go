package domain

import "time"

// Product описывает товар каталога вместе с доступным остатком.
type Product struct {
	ID   string
	Name string
	// PriceMinor — текущая цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Quantity — доступный остаток на складе.
	Quantity  int64
	UpdatedAt time.Time
}

// StockUpdate задаёт новое абсолютное значение остатка товара.
type StockUpdate struct {
	ProductID string
	Quantity  int64
}

// IndexProducts строит индекс товаров по идентификатору.
func IndexProducts(products []Product) map[string]Product {
	index := make(map[string]Product, len(products))
	for _, product := range products {
		index[product.ID] = product
	}
	return index
}
