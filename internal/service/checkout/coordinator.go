// Package checkout оформляет заказ из корзины в одной транзакции хранилища.
package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// State — шаг, до которого дошёл checkout.
type State string

const (
	StateStarted        State = "Started"
	StateProductsLocked State = "ProductsLocked"
	StateValidated      State = "Validated"
	StateOrderCreated   State = "OrderCreated"
	StateStockCommitted State = "StockCommitted"
	StateCartCleared    State = "CartCleared"
	StateCompleted      State = "Completed"
	StateAborted        State = "Aborted"
)

// CartInvalidator сбрасывает закэшированный снимок корзины.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithRetryConfig задаёт политику повторов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Coordinator) {
		c.retry = cfg
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCartInvalidator подключает сброс кэша корзины после успешного checkout.
func WithCartInvalidator(inv CartInvalidator) Option {
	return func(c *Coordinator) {
		c.invalidator = inv
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator превращает корзину в заказ: всё или ничего.
type Coordinator struct {
	txm         domain.TxManager
	retry       RetryConfig
	metrics     *metrics.StoreMetrics
	logger      *log.Entry
	invalidator CartInvalidator
	now         func() time.Time
}

// NewCoordinator создаёт координатор поверх менеджера транзакций.
func NewCoordinator(txm domain.TxManager, opts ...Option) *Coordinator {
	c := &Coordinator{
		txm:    txm,
		retry:  DefaultRetryConfig(),
		logger: log.New().WithField("component", "checkout"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Checkout оформляет заказ из корзины пользователя.
// Временные ошибки (таймаут блокировки, сбой хранилища, корзина изменена параллельно)
// приводят к повтору всего checkout с нуля.
func (c *Coordinator) Checkout(ctx context.Context, userID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}

	started := time.Now()
	c.metrics.CheckoutStarted()

	var (
		order   domain.Order
		reached State
	)
	err := executeWithRetry(ctx, c.retry, c.logger, "checkout", func(attempt int) error {
		if attempt > 1 {
			c.metrics.CheckoutRetried()
		}
		var err error
		order, reached, err = c.attempt(ctx, userID)
		return err
	})

	result := resultLabel(err)
	c.metrics.CheckoutFinished(result, time.Since(started))

	if err != nil {
		c.metrics.CheckoutAborted(string(reached))
		entry := c.logger.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"state":   StateAborted,
			"reached": reached,
			"result":  result,
		})
		if domain.IsBusiness(err) {
			entry.Info("checkout aborted")
		} else {
			entry.Warn("checkout aborted")
		}
		return domain.Order{}, err
	}

	c.metrics.RecordOutboxEvent()
	c.metrics.RecordTimelineEvent()
	if c.invalidator != nil {
		c.invalidator.Invalidate(ctx, userID)
	}

	c.logger.WithFields(log.Fields{
		"user_id":  userID,
		"order_id": order.ID,
		"items":    len(order.Items),
		"total":    order.TotalPrice().StringFixed(2),
		"state":    StateCompleted,
	}).Info("checkout completed")

	return order, nil
}

// attempt выполняет одну попытку и возвращает последнее достигнутое состояние.
func (c *Coordinator) attempt(ctx context.Context, userID string) (domain.Order, State, error) {
	state := StateStarted
	var order domain.Order

	err := c.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if cart.Empty() {
			return domain.ErrEmptyCart
		}

		locked, err := tx.Ledger().LockProducts(ctx, cart.ProductIDs())
		if err != nil {
			return err
		}
		state = StateProductsLocked

		for _, line := range cart.Lines {
			product, ok := locked[line.ProductID]
			if !ok {
				return &domain.ProductNotSellableError{ProductID: line.ProductID}
			}
			if err := product.CanSell(line.Quantity); err != nil {
				return err
			}
		}
		state = StateValidated

		now := c.now()
		order = domain.Order{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    domain.OrderStatusNew,
			Items:     make([]domain.OrderItem, 0, len(cart.Lines)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		state = StateOrderCreated

		for _, line := range cart.Lines {
			product := locked[line.ProductID]
			// Цена берётся из заблокированной строки товара, снимок корзины только для показа.
			item := domain.OrderItem{
				ID:          uuid.NewString(),
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				Price:       product.Price,
				CreatedAt:   now,
			}
			if err := tx.Orders().AddItem(ctx, order.ID, item); err != nil {
				return err
			}
			if _, err := tx.Ledger().TryReserve(ctx, product.ID, line.Quantity); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
		}
		state = StateStockCommitted

		// Параллельное оформление той же корзины успело её очистить: откат и повтор с новым чтением.
		if err := tx.Carts().ClearLines(ctx, cart); err != nil {
			return err
		}
		state = StateCartCleared

		msg, err := domain.NewOrderOutboxMessage(domain.EventOrderCreated, order, "", "", false)
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return err
		}

		return tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderCreated,
			Status:   order.Status,
			ActorID:  userID,
			Reason:   "checkout",
			Occurred: now,
		})
	})
	if err != nil {
		return domain.Order{}, state, err
	}
	return order, StateCompleted, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.CheckoutCompleted
	case errors.Is(err, domain.ErrEmptyCart):
		return metrics.CheckoutEmptyCart
	case errors.Is(err, domain.ErrProductNotSellable), errors.Is(err, domain.ErrProductUnavailable):
		return metrics.CheckoutNotSellable
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.CheckoutInsufficientStock
	case errors.Is(err, domain.ErrLockTimeout):
		return metrics.CheckoutLockTimeout
	case errors.Is(err, domain.ErrStorageFault):
		return metrics.CheckoutStorageFault
	default:
		return metrics.CheckoutError
	}
}
