// Package orders управляет жизненным циклом оформленного заказа.
package orders

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	// maxVersionRetries ограничивает повторы при конфликте версий заказа.
	maxVersionRetries = 3
)

// Config задаёт политику жизненного цикла.
type Config struct {
	// RestockOnCancel возвращает позиции отменённого заказа на склад.
	RestockOnCancel bool
	// StrictStatusTransitions разрешает администратору только следующий шаг цепочки.
	StrictStatusTransitions bool
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		RestockOnCancel:         true,
		StrictStatusTransitions: true,
	}
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает метрики переходов и возврата остатка.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service реализует отмену, смену статуса и чтение заказов.
type Service struct {
	txm      domain.TxManager
	timeline domain.TimelineRepository
	cfg      Config
	metrics  *metrics.StoreMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(txm domain.TxManager, timeline domain.TimelineRepository, cfg Config, opts ...Option) *Service {
	s := &Service{
		txm:      txm,
		timeline: timeline,
		cfg:      cfg,
		logger:   log.New().WithField("component", "orders"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel отменяет заказ владельцем или администратором.
// При RestockOnCancel позиции возвращаются на склад в той же транзакции.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "canceled by user"
	}

	var (
		result   domain.Order
		previous domain.OrderStatus
		releases []domain.Release
	)
	err := s.withVersionRetry(ctx, "cancel", orderID, func() error {
		releases = nil
		return s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			order, err := tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if !actor.CanAccessOrder(order) {
				return domain.ErrForbidden
			}
			if err := domain.CheckCancel(order.Status); err != nil {
				return err
			}

			previous = order.Status
			now := s.now()
			order.Status = domain.OrderStatusCanceled
			order.UpdatedAt = now
			if err := tx.Orders().UpdateStatus(ctx, order); err != nil {
				return err
			}
			order.Version++

			restock := s.cfg.RestockOnCancel && len(order.Items) > 0
			if restock {
				releases, err = releaseItems(ctx, tx, order.Items)
				if err != nil {
					return err
				}
			}

			msg, err := domain.NewOrderOutboxMessage(domain.EventOrderCanceled, order, previous, reason, restock)
			if err != nil {
				return err
			}
			if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
				return err
			}

			if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
				OrderID:  order.ID,
				Type:     domain.TimelineOrderCanceled,
				Status:   order.Status,
				ActorID:  actor.UserID,
				Reason:   reason,
				Occurred: now,
			}); err != nil {
				return err
			}
			if restock {
				if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
					OrderID:  order.ID,
					Type:     domain.TimelineStockReleased,
					Status:   order.Status,
					ActorID:  actor.UserID,
					Reason:   releaseSummary(releases),
					Occurred: now,
				}); err != nil {
					return err
				}
			}

			result = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.OrderTransition(string(previous), string(domain.OrderStatusCanceled))
	s.metrics.RecordOutboxEvent()
	s.metrics.RecordTimelineEvent()
	for _, rel := range releases {
		s.metrics.StockReleased(rel.Released, rel.Clamped)
		if rel.Clamped > 0 {
			s.logger.WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": rel.ProductID,
				"requested":  rel.Requested,
				"released":   rel.Released,
			}).Warn("release clamped at provisioned quantity")
		}
	}
	if len(releases) > 0 {
		s.metrics.RecordTimelineEvent()
	}

	s.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"actor":     actor.UserID,
		"previous":  previous,
		"restocked": len(releases) > 0,
	}).Info("order canceled")

	return result, nil
}

// UpdateStatus двигает заказ вперёд по цепочке статусов. Только для администратора.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if !actor.Admin {
		return domain.Order{}, domain.ErrForbidden
	}
	if !status.Valid() {
		return domain.Order{}, domain.ErrInvalidStatus
	}
	if status == domain.OrderStatusCanceled {
		return s.Cancel(ctx, actor, orderID, "canceled by admin")
	}

	var (
		result   domain.Order
		previous domain.OrderStatus
	)
	err := s.withVersionRetry(ctx, "update_status", orderID, func() error {
		return s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			order, err := tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if err := domain.CheckForward(order.Status, status, s.cfg.StrictStatusTransitions); err != nil {
				return err
			}

			previous = order.Status
			now := s.now()
			order.Status = status
			order.UpdatedAt = now
			if err := tx.Orders().UpdateStatus(ctx, order); err != nil {
				return err
			}
			order.Version++

			msg, err := domain.NewOrderOutboxMessage(domain.EventOrderStatusChanged, order, previous, "", false)
			if err != nil {
				return err
			}
			if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
				return err
			}
			if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
				OrderID:  order.ID,
				Type:     domain.TimelineOrderStatusChanged,
				Status:   status,
				ActorID:  actor.UserID,
				Occurred: now,
			}); err != nil {
				return err
			}

			result = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.OrderTransition(string(previous), string(status))
	s.metrics.RecordOutboxEvent()
	s.metrics.RecordTimelineEvent()
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     previous,
		"to":       status,
	}).Info("order status updated")

	return result, nil
}

// Get возвращает заказ владельцу или администратору.
func (s *Service) Get(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, strings.TrimSpace(orderID))
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.CanAccessOrder(order) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// List возвращает заказы пользователя, новые первыми.
// Пустой userID означает заказы самого инициатора.
func (s *Service) List(ctx context.Context, actor domain.Actor, userID string, limit int) ([]domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = actor.UserID
	}
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	if userID != actor.UserID && !actor.Admin {
		return nil, domain.ErrForbidden
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var orders []domain.Order
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Timeline возвращает историю заказа в порядке событий.
func (s *Service) Timeline(ctx context.Context, actor domain.Actor, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(ctx, strings.TrimSpace(orderID))
}

// withVersionRetry повторяет транзакцию с перечитыванием заказа при конфликте версий.
func (s *Service) withVersionRetry(ctx context.Context, operation, orderID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxVersionRetries; attempt++ {
		err = fn()
		if !domain.IsVersionConflict(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		s.logger.WithFields(log.Fields{
			"operation": operation,
			"order_id":  orderID,
			"attempt":   attempt,
		}).Debug("order version conflict, retrying")
	}
	return err
}

// releaseItems блокирует товары заказа по возрастанию id и возвращает остаток.
func releaseItems(ctx context.Context, tx domain.Tx, items []domain.OrderItem) ([]domain.Release, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	if _, err := tx.Ledger().LockProducts(ctx, ids); err != nil {
		return nil, err
	}

	releases := make([]domain.Release, 0, len(items))
	for _, item := range items {
		rel, err := tx.Ledger().Release(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releases, nil
}
