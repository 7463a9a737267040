package domain

import "time"

// Customer — покупатель из внешнего справочника клиентов.
// Для оформления заказа важен только факт существования записи.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}
