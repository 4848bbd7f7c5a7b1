package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCartHelpers(t *testing.T) {
	now := time.Now().UTC()
	cart := domain.Cart{
		ID:     "cart-1",
		UserID: "user-1",
		Lines: []domain.CartLine{
			{ProductID: 9, Quantity: 1, PriceSnapshot: decimal.RequireFromString("5.50"), AddedAt: now.Add(time.Second)},
			{ProductID: 3, Quantity: 2, PriceSnapshot: decimal.RequireFromString("10"), AddedAt: now},
		},
	}

	assert.False(t, cart.Empty())
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, []int64{3, 9}, cart.ProductIDs())

	line, ok := cart.Line(9)
	require.True(t, ok)
	assert.Equal(t, 1, line.Quantity)
	_, ok = cart.Line(42)
	assert.False(t, ok)

	domain.SortLines(cart.Lines)
	assert.Equal(t, int64(3), cart.Lines[0].ProductID)

	assert.True(t, domain.Cart{}.Empty())
}

func TestSortedUniqueIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 5}, domain.SortedUniqueIDs([]int64{5, 1, 2, 5, 1}))
	assert.Empty(t, domain.SortedUniqueIDs(nil))
}

func TestProductCanSell(t *testing.T) {
	product := domain.Product{ID: 7, Name: "B", Price: decimal.NewFromInt(3), Available: 4, Provisioned: 4, Sellable: true}

	require.NoError(t, product.CanSell(4))

	err := product.CanSell(10)
	var stock *domain.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, domain.InsufficientStockError{ProductID: 7, Available: 4, Requested: 10}, *stock)

	product.Sellable = false
	var notSellable *domain.ProductNotSellableError
	require.True(t, errors.As(product.CanSell(1), &notSellable))
	assert.Equal(t, int64(7), notSellable.ProductID)
}

func TestProductValidate(t *testing.T) {
	assert.ErrorIs(t, domain.Product{Price: decimal.NewFromInt(1)}.Validate(), domain.ErrProductNameRequired)
	assert.ErrorIs(t, domain.Product{Name: "x", Price: decimal.NewFromInt(-1)}.Validate(), domain.ErrPriceInvalid)
	assert.NoError(t, domain.Product{Name: "x", Price: decimal.Zero}.Validate())
	assert.ErrorIs(t, domain.Product{Name: "x", Price: decimal.RequireFromString("9.999")}.Validate(), domain.ErrPriceScale)
	assert.NoError(t, domain.Product{Name: "x", Price: decimal.RequireFromString("9.990")}.Validate())
}
