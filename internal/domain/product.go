package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// priceScale совпадает с NUMERIC(13,2) в таблице products.
const priceScale = 2

// Product — товар каталога вместе со складским остатком.
// Available и Provisioned меняет только StockLedger.
type Product struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	Price       decimal.Decimal
	// Available — сколько единиц можно продать прямо сейчас.
	Available int
	// Provisioned — сколько единиц когда-либо поступило на склад; верхняя граница для Release.
	Provisioned int
	Sellable    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет поля, которые задаёт администратор каталога.
func (p Product) Validate() error {
	if p.Name == "" {
		return ErrProductNameRequired
	}
	if p.Price.IsNegative() {
		return ErrPriceInvalid
	}
	if !p.Price.Equal(p.Price.Round(priceScale)) {
		return ErrPriceScale
	}
	return nil
}

// CanSell сообщает, можно ли продать qty единиц по текущему остатку.
func (p Product) CanSell(qty int) error {
	if !p.Sellable {
		return &ProductNotSellableError{ProductID: p.ID}
	}
	if p.Available < qty {
		return &InsufficientStockError{ProductID: p.ID, Available: p.Available, Requested: qty}
	}
	return nil
}

// Reservation — результат успешного списания остатка.
type Reservation struct {
	ProductID int64
	Quantity  int
	Remaining int
}

// Release — результат возврата остатка на склад.
type Release struct {
	ProductID int64
	Requested int
	Released  int
	// Clamped — сколько единиц не вернули, чтобы не превысить Provisioned.
	Clamped   int
	Available int
}

// ProductFilter ограничивает выборку каталога.
type ProductFilter struct {
	OnlySellable bool
	Limit        int
}
