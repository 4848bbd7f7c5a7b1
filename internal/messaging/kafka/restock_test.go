package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type restockFixture struct {
	catalog *catalog.Service
	handler MessageHandler
	product domain.Product
}

func newRestockFixture(t *testing.T, restocker Restocker) restockFixture {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "restock-test")

	svc := catalog.NewService(memory.NewStore(), entry)
	product, err := svc.Create(context.Background(), domain.Actor{UserID: "admin", Admin: true}, catalog.NewProduct{
		Name:     "Desk Lamp",
		Price:    decimal.RequireFromString("30.00"),
		Stock:    2,
		Sellable: true,
	})
	require.NoError(t, err)

	if restocker == nil {
		restocker = svc
	}
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, entry)
	return restockFixture{
		catalog: svc,
		handler: NewRestockHandler(restocker, guard, entry),
		product: product,
	}
}

func (f restockFixture) available(t *testing.T) int {
	t.Helper()
	p, err := f.catalog.GetBySlug(context.Background(), f.product.Slug)
	require.NoError(t, err)
	return p.Available
}

func stockMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicStockProvisioned, Key: []byte("ref"), Value: []byte(value)}
}

func TestRestockHandler_AppliesOncePerReference(t *testing.T) {
	f := newRestockFixture(t, nil)
	msg := stockMessage(`{"reference":"grn-1","product_id":1,"quantity":5}`)

	require.NoError(t, f.handler(context.Background(), msg))
	require.NoError(t, f.handler(context.Background(), msg))

	assert.Equal(t, 7, f.available(t))
}

func TestRestockHandler_DistinctReferences(t *testing.T) {
	f := newRestockFixture(t, nil)

	require.NoError(t, f.handler(context.Background(), stockMessage(`{"reference":"grn-1","product_id":1,"quantity":1}`)))
	require.NoError(t, f.handler(context.Background(), stockMessage(`{"reference":"grn-2","product_id":1,"quantity":1}`)))

	assert.Equal(t, 4, f.available(t))
}

func TestRestockHandler_InvalidMessages(t *testing.T) {
	f := newRestockFixture(t, nil)

	tests := []struct {
		name  string
		value string
	}{
		{name: "broken json", value: "{"},
		{name: "missing reference", value: `{"product_id":1,"quantity":1}`},
		{name: "zero quantity", value: `{"reference":"grn-3","product_id":1,"quantity":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.handler(context.Background(), stockMessage(tt.value))
			require.Error(t, err)
			assert.True(t, IsPermanent(err))
		})
	}
	assert.Equal(t, 2, f.available(t))
}

func TestRestockHandler_UnknownProductIsRejected(t *testing.T) {
	f := newRestockFixture(t, nil)
	msg := stockMessage(`{"reference":"grn-4","product_id":99,"quantity":1}`)

	err := f.handler(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	// повторная доставка того же события уже не обрабатывается
	require.NoError(t, f.handler(context.Background(), msg))
}

func TestRestockHandler_ReferenceReuseWithDifferentPayload(t *testing.T) {
	f := newRestockFixture(t, nil)

	require.NoError(t, f.handler(context.Background(), stockMessage(`{"reference":"grn-5","product_id":1,"quantity":1}`)))
	err := f.handler(context.Background(), stockMessage(`{"reference":"grn-5","product_id":1,"quantity":9}`))

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, domain.ErrIdempotencyHashMismatch))
	assert.Equal(t, 3, f.available(t))
}

type flakyRestocker struct {
	inner    Restocker
	failures int
	calls    int
}

func (r *flakyRestocker) Restock(ctx context.Context, actor domain.Actor, id int64, qty int) (domain.Product, error) {
	r.calls++
	if r.calls <= r.failures {
		return domain.Product{}, domain.ErrLockTimeout
	}
	return r.inner.Restock(ctx, actor, id, qty)
}

func TestRestockHandler_TransientFailureReleasesReference(t *testing.T) {
	flaky := &flakyRestocker{failures: 1}
	f := newRestockFixture(t, flaky)
	flaky.inner = f.catalog
	msg := stockMessage(`{"reference":"grn-6","product_id":1,"quantity":3}`)

	err := f.handler(context.Background(), msg)
	require.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 2, f.available(t))

	require.NoError(t, f.handler(context.Background(), msg))
	assert.Equal(t, 5, f.available(t))
	assert.Equal(t, 2, flaky.calls)
}
