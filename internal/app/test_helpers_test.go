package app

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
)

// newTestProduct возвращает товар для сквозных тестов сборки сервисов.
func newTestProduct() catalog.NewProduct {
	return catalog.NewProduct{
		Name:     "Green Tea",
		Price:    decimal.RequireFromString("4.50"),
		Stock:    5,
		Sellable: true,
	}
}
