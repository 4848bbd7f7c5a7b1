package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func createProductForIntegrationTest(t *testing.T, store *Store, slug string, stock int) domain.Product {
	t.Helper()

	var product domain.Product
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		product, err = tx.Products().Create(ctx, domain.Product{
			Slug:      slug,
			Name:      slug,
			Price:     decimal.RequireFromString("10.00"),
			Available: stock,
			Sellable:  true,
		})
		return err
	}))
	return product
}

func TestTx_PostgresReserveReleaseAndProvision(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	product := createProductForIntegrationTest(t, store, "product-a", 5)
	require.True(t, product.Price.Equal(decimal.RequireFromString("10")))

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		locked, err := tx.Ledger().LockProducts(ctx, []int64{product.ID, 404})
		require.NoError(t, err)
		require.Len(t, locked, 1)

		res, err := tx.Ledger().TryReserve(ctx, product.ID, 2)
		require.NoError(t, err)
		require.Equal(t, 3, res.Remaining)

		_, err = tx.Ledger().TryReserve(ctx, product.ID, 10)
		var stock *domain.InsufficientStockError
		require.True(t, errors.As(err, &stock))
		require.Equal(t, 3, stock.Available)
		return nil
	}))

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		release, err := tx.Ledger().Release(ctx, product.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 2, release.Released)
		assert.Equal(t, 2, release.Clamped)

		p, err := tx.Ledger().Provision(ctx, product.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, 10, p.Available)
		assert.Equal(t, 10, p.Provisioned)
		return nil
	}))
}

func TestTx_PostgresRollbackOnError(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	product := createProductForIntegrationTest(t, store, "product-b", 4)
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Ledger().TryReserve(ctx, product.ID, 4); err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "x", EventType: "order.created", Payload: []byte(`{}`)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, p.Available)
		return nil
	}))

	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingCount)
}

func TestTx_PostgresConcurrentReservationsNeverOversell(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t, WithLockTimeout(5*time.Second))
	product := createProductForIntegrationTest(t, store, "hot", 7)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
				if _, err := tx.Ledger().LockProducts(ctx, []int64{product.ID}); err != nil {
					return err
				}
				_, err := tx.Ledger().TryReserve(ctx, product.ID, 2)
				return err
			})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), succeeded.Load())
}

func TestTx_PostgresLockTimeout(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t, WithLockTimeout(100*time.Millisecond))
	product := createProductForIntegrationTest(t, store, "locked", 3)

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			_, err := tx.Ledger().LockProducts(ctx, []int64{product.ID})
			close(locked)
			<-done
			return err
		})
	}()
	<-locked
	defer close(done)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Ledger().LockProducts(ctx, []int64{product.ID})
		return err
	})
	require.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestTx_PostgresCartAndOrderFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	product := createProductForIntegrationTest(t, store, "lamp", 10)
	orderID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.Carts().GetOrCreate(ctx, "user-1")
		require.NoError(t, err)

		_, err = tx.Carts().AddLine(ctx, cart.ID, domain.CartLine{ProductID: product.ID, Quantity: 1, PriceSnapshot: product.Price})
		require.NoError(t, err)
		merged, err := tx.Carts().AddLine(ctx, cart.ID, domain.CartLine{ProductID: product.ID, Quantity: 2, PriceSnapshot: decimal.NewFromInt(99)})
		require.NoError(t, err)
		assert.Equal(t, 3, merged.Quantity)
		assert.True(t, merged.PriceSnapshot.Equal(product.Price))

		require.NoError(t, tx.Orders().Create(ctx, domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusNew, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, tx.Orders().AddItem(ctx, orderID, domain.OrderItem{
			ID: uuid.NewString(), ProductID: product.ID, ProductName: product.Name, Quantity: 3, Price: product.Price, CreatedAt: now,
		}))

		removed, err := tx.Carts().Clear(ctx, cart.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		return tx.Timeline().Append(ctx, domain.TimelineEvent{OrderID: orderID, Type: domain.TimelineOrderCreated, Status: domain.OrderStatusNew, ActorID: "user-1", Occurred: now})
	}))

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		require.NoError(t, err)
		require.Len(t, order.Items, 1)
		assert.True(t, order.TotalPrice().Equal(decimal.RequireFromString("30")))

		order.Status = domain.OrderStatusProcessing
		order.UpdatedAt = time.Now().UTC()
		require.NoError(t, tx.Orders().UpdateStatus(ctx, order))
		require.ErrorIs(t, tx.Orders().UpdateStatus(ctx, order), domain.ErrOrderVersionConflict)

		orders, err := tx.Orders().ListByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, int64(1), orders[0].Version)
		return nil
	}))

	events, err := store.Timeline().List(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OrderStatusNew, events[0].Status)
}
