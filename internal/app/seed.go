package app

import (
	"context"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

var (
	demoCustomers = []domain.Customer{
		{ID: "customer-1", Name: "Demo Customer", Email: "demo@example.com"},
	}
	demoProducts = []domain.Product{
		{ID: "sku-keyboard", Name: "Mechanical keyboard", PriceMinor: 12900, Quantity: 50},
		{ID: "sku-mouse", Name: "Wireless mouse", PriceMinor: 3900, Quantity: 100},
		{ID: "sku-monitor", Name: "27\" monitor", PriceMinor: 32900, Quantity: 5},
	}
)

// seedDemoCatalog заполняет справочники демонстрационными данными.
func seedDemoCatalog(ctx context.Context, customers domain.CustomerRepository, products domain.ProductRepository) error {
	for _, customer := range demoCustomers {
		if err := customers.Upsert(ctx, customer); err != nil {
			return err
		}
	}
	for _, product := range demoProducts {
		if err := products.Upsert(ctx, product); err != nil {
			return err
		}
	}
	return nil
}
