package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var (
	owner    = domain.Actor{UserID: "user-1"}
	stranger = domain.Actor{UserID: "user-2"}
	admin    = domain.Actor{UserID: "admin-1", Admin: true}
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "orders-test")
}

type fixture struct {
	store   *memory.Store
	product domain.Product
	order   domain.Order
}

// newFixture создаёт товар с остатком 5 и заказ user-1 на 2 единицы.
func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	var product domain.Product
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		product, err = tx.Products().Create(ctx, domain.Product{
			Slug:      "kettle",
			Name:      "Kettle",
			Price:     decimal.RequireFromString("10.00"),
			Available: 5,
			Sellable:  true,
		})
		if err != nil {
			return err
		}
		cart, err := tx.Carts().GetOrCreate(ctx, owner.UserID)
		if err != nil {
			return err
		}
		_, err = tx.Carts().AddLine(ctx, cart.ID, domain.CartLine{ProductID: product.ID, Quantity: 2, PriceSnapshot: product.Price})
		return err
	}))

	order, err := checkout.NewCoordinator(store, checkout.WithLogger(quietLogger())).Checkout(ctx, owner.UserID)
	require.NoError(t, err)

	return fixture{store: store, product: product, order: order}
}

func (f fixture) available(t *testing.T) int {
	t.Helper()
	var product domain.Product
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		product, err = tx.Products().Get(ctx, f.product.ID)
		return err
	}))
	return product.Available
}

func newService(f fixture, cfg orders.Config) *orders.Service {
	return orders.NewService(f.store, f.store.Timeline(), cfg, orders.WithLogger(quietLogger()))
}

func TestCancel_RestocksAndRecordsEvents(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 3, f.available(t))
	svc := newService(f, orders.DefaultConfig())

	canceled, err := svc.Cancel(context.Background(), owner, f.order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	assert.Equal(t, f.order.Version+1, canceled.Version)
	assert.Equal(t, 5, f.available(t))

	pending := f.store.PendingOutbox()
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	assert.Equal(t, domain.EventOrderCanceled, pending[1].EventType)

	events, err := svc.Timeline(context.Background(), owner, f.order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	assert.Equal(t, domain.TimelineOrderCanceled, events[1].Type)
	assert.Equal(t, "changed my mind", events[1].Reason)
	assert.Equal(t, domain.TimelineStockReleased, events[2].Type)
}

func TestCancel_WithoutRestock(t *testing.T) {
	f := newFixture(t)
	svc := newService(f, orders.Config{RestockOnCancel: false, StrictStatusTransitions: true})

	_, err := svc.Cancel(context.Background(), owner, f.order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.available(t))
}

func TestCancel_Rules(t *testing.T) {
	t.Run("double cancel is rejected", func(t *testing.T) {
		f := newFixture(t)
		svc := newService(f, orders.DefaultConfig())

		_, err := svc.Cancel(context.Background(), owner, f.order.ID, "")
		require.NoError(t, err)

		_, err = svc.Cancel(context.Background(), owner, f.order.ID, "")
		var transition *domain.InvalidTransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, domain.OrderStatusCanceled, transition.From)
		assert.Equal(t, domain.OrderStatusCanceled, transition.To)
		assert.Equal(t, 5, f.available(t))
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		f := newFixture(t)
		svc := newService(f, orders.DefaultConfig())

		_, err := svc.Cancel(context.Background(), stranger, f.order.ID, "")
		require.ErrorIs(t, err, domain.ErrForbidden)
		assert.Equal(t, 3, f.available(t))
	})

	t.Run("admin may cancel any order", func(t *testing.T) {
		f := newFixture(t)
		svc := newService(f, orders.DefaultConfig())

		_, err := svc.Cancel(context.Background(), admin, f.order.ID, "fraud")
		require.NoError(t, err)
	})

	t.Run("shipped order cannot be canceled", func(t *testing.T) {
		f := newFixture(t)
		svc := newService(f, orders.Config{RestockOnCancel: true})

		_, err := svc.UpdateStatus(context.Background(), admin, f.order.ID, domain.OrderStatusShipped)
		require.NoError(t, err)

		_, err = svc.Cancel(context.Background(), owner, f.order.ID, "")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, 3, f.available(t))
	})

	t.Run("processing order restocks on cancel", func(t *testing.T) {
		f := newFixture(t)
		svc := newService(f, orders.DefaultConfig())

		_, err := svc.UpdateStatus(context.Background(), admin, f.order.ID, domain.OrderStatusProcessing)
		require.NoError(t, err)
		_, err = svc.Cancel(context.Background(), owner, f.order.ID, "")
		require.NoError(t, err)
		assert.Equal(t, 5, f.available(t))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		svc := newService(f, orders.DefaultConfig())

		_, err := svc.Cancel(context.Background(), owner, "missing", "")
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestCancel_ConcurrentCancelsRestockOnce(t *testing.T) {
	f := newFixture(t)
	svc := newService(f, orders.DefaultConfig())

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Cancel(context.Background(), owner, f.order.ID, "")
			if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 5, f.available(t))
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     orders.Config
		actor   domain.Actor
		steps   []domain.OrderStatus
		wantErr error
	}{
		{name: "next step", cfg: orders.DefaultConfig(), actor: admin, steps: []domain.OrderStatus{domain.OrderStatusProcessing}},
		{name: "full chain", cfg: orders.DefaultConfig(), actor: admin, steps: []domain.OrderStatus{
			domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCompleted,
		}},
		{name: "strict rejects skip", cfg: orders.DefaultConfig(), actor: admin, steps: []domain.OrderStatus{domain.OrderStatusShipped}, wantErr: domain.ErrInvalidTransition},
		{name: "lenient allows skip", cfg: orders.Config{}, actor: admin, steps: []domain.OrderStatus{domain.OrderStatusShipped}},
		{name: "backwards rejected", cfg: orders.DefaultConfig(), actor: admin, steps: []domain.OrderStatus{
			domain.OrderStatusProcessing, domain.OrderStatusNew,
		}, wantErr: domain.ErrInvalidTransition},
		{name: "completed is terminal", cfg: orders.Config{}, actor: admin, steps: []domain.OrderStatus{
			domain.OrderStatusCompleted, domain.OrderStatusCanceled,
		}, wantErr: domain.ErrInvalidTransition},
		{name: "owner is not admin", cfg: orders.DefaultConfig(), actor: owner, steps: []domain.OrderStatus{domain.OrderStatusProcessing}, wantErr: domain.ErrForbidden},
		{name: "unknown status", cfg: orders.DefaultConfig(), actor: admin, steps: []domain.OrderStatus{"lost"}, wantErr: domain.ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := newService(f, tt.cfg)

			var err error
			var order domain.Order
			for _, step := range tt.steps {
				order, err = svc.UpdateStatus(context.Background(), tt.actor, f.order.ID, step)
				if err != nil {
					break
				}
			}
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.steps[len(tt.steps)-1], order.Status)
			assert.Equal(t, f.order.Version+int64(len(tt.steps)), order.Version)
		})
	}
}

func TestUpdateStatus_CanceledDelegatesToCancel(t *testing.T) {
	f := newFixture(t)
	svc := newService(f, orders.DefaultConfig())

	order, err := svc.UpdateStatus(context.Background(), admin, f.order.ID, domain.OrderStatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, order.Status)
	assert.Equal(t, 5, f.available(t))
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	svc := newService(f, orders.DefaultConfig())
	ctx := context.Background()

	got, err := svc.Get(ctx, owner, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, f.order.ID, got.ID)
	assert.True(t, got.TotalPrice().Equal(decimal.RequireFromString("20.00")))

	_, err = svc.Get(ctx, stranger, f.order.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Get(ctx, admin, f.order.ID)
	require.NoError(t, err)

	list, err := svc.List(ctx, owner, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.List(ctx, stranger, owner.UserID, 10)
	require.ErrorIs(t, err, domain.ErrForbidden)

	list, err = svc.List(ctx, admin, owner.UserID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = svc.List(ctx, stranger, "", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Timeline(ctx, stranger, f.order.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}
