package catalog_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var (
	admin    = domain.Actor{UserID: "admin", Admin: true}
	customer = domain.Actor{UserID: "user-1"}
)

func newService() *catalog.Service {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return catalog.NewService(memory.NewStore(), logger.WithField("component", "catalog-test"))
}

func TestCreate_GeneratesUniqueSlugs(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	input := catalog.NewProduct{Name: "Blue Mug", Price: decimal.RequireFromString("7.00"), Stock: 3, Sellable: true}

	first, err := svc.Create(ctx, admin, input)
	require.NoError(t, err)
	second, err := svc.Create(ctx, admin, input)
	require.NoError(t, err)
	third, err := svc.Create(ctx, admin, input)
	require.NoError(t, err)

	assert.Equal(t, "blue-mug", first.Slug)
	assert.Equal(t, "blue-mug-1", second.Slug)
	assert.Equal(t, "blue-mug-2", third.Slug)
	assert.Equal(t, 3, first.Available)
	assert.Equal(t, 3, first.Provisioned)
}

func TestCreate_Validation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   domain.Actor
		input   catalog.NewProduct
		wantErr error
	}{
		{name: "not admin", actor: customer, input: catalog.NewProduct{Name: "x"}, wantErr: domain.ErrForbidden},
		{name: "empty name", actor: admin, input: catalog.NewProduct{Name: "  "}, wantErr: domain.ErrProductNameRequired},
		{name: "negative price", actor: admin, input: catalog.NewProduct{Name: "x", Price: decimal.NewFromInt(-1)}, wantErr: domain.ErrPriceInvalid},
		{name: "sub-cent price", actor: admin, input: catalog.NewProduct{Name: "x", Price: decimal.RequireFromString("9.999")}, wantErr: domain.ErrPriceScale},
		{name: "negative stock", actor: admin, input: catalog.NewProduct{Name: "x", Stock: -1}, wantErr: domain.ErrQuantityInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.actor, tt.input)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpdateRestockAndPublicReads(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	product, err := svc.Create(ctx, admin, catalog.NewProduct{Name: "Lamp", Price: decimal.RequireFromString("20.00"), Stock: 1, Sellable: true})
	require.NoError(t, err)
	hidden, err := svc.Create(ctx, admin, catalog.NewProduct{Name: "Draft", Price: decimal.RequireFromString("1.00")})
	require.NoError(t, err)

	price := decimal.RequireFromString("25.50")
	updated, err := svc.Update(ctx, admin, product.ID, catalog.ProductPatch{Price: &price})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))
	assert.Equal(t, "Lamp", updated.Name)

	_, err = svc.Update(ctx, customer, product.ID, catalog.ProductPatch{Price: &price})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Update(ctx, admin, 999, catalog.ProductPatch{Price: &price})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	restocked, err := svc.Restock(ctx, admin, product.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, restocked.Available)
	assert.Equal(t, 5, restocked.Provisioned)

	_, err = svc.Restock(ctx, admin, product.ID, 0)
	require.ErrorIs(t, err, domain.ErrQuantityInvalid)
	_, err = svc.Restock(ctx, customer, product.ID, 1)
	require.ErrorIs(t, err, domain.ErrForbidden)

	got, err := svc.GetBySlug(ctx, "lamp")
	require.NoError(t, err)
	assert.Equal(t, product.ID, got.ID)

	_, err = svc.GetBySlug(ctx, hidden.Slug)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	list, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, product.ID, list[0].ID)

	sellable := true
	_, err = svc.Update(ctx, admin, hidden.ID, catalog.ProductPatch{Sellable: &sellable})
	require.NoError(t, err)
	list, err = svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
