package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepository работает с заказами внутри транзакции; версия проверяется при commit.
type orderRepository struct {
	tx *tx
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	if _, err := r.view(order.ID); err == nil {
		return domain.ErrOrderVersionConflict
	}

	order.Items = cloneItems(order.Items)
	view := order
	r.tx.orders[order.ID] = &view
	r.tx.created[order.ID] = struct{}{}

	id := order.ID
	r.tx.stage(
		func(s *Store) error {
			if _, exists := s.orders[id]; exists {
				return domain.ErrOrderVersionConflict
			}
			return nil
		},
		func(s *Store) {
			stored := order
			stored.Items = cloneItems(order.Items)
			s.orders[id] = &stored
		},
	)
	return nil
}

// AddItem добавляет позицию; на один товар в заказе допускается одна позиция.
func (r *orderRepository) AddItem(_ context.Context, orderID string, item domain.OrderItem) error {
	view, err := r.view(orderID)
	if err != nil {
		return err
	}
	for _, existing := range view.Items {
		if existing.ProductID == item.ProductID {
			return domain.ErrOrderVersionConflict
		}
	}
	view.Items = append(view.Items, item)

	r.tx.stage(nil, func(s *Store) {
		if stored, ok := s.orders[orderID]; ok {
			stored.Items = append(stored.Items, item)
		}
	})
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	view, err := r.view(id)
	if err != nil {
		return domain.Order{}, err
	}
	return cloneOrder(*view), nil
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	s := r.tx.store
	s.mu.RLock()
	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(*order))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateStatus сохраняет статус, если версия заказа не изменилась (optimistic locking).
func (r *orderRepository) UpdateStatus(_ context.Context, order domain.Order) error {
	view, err := r.view(order.ID)
	if err != nil {
		return err
	}
	if view.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	expected := order.Version
	view.Status = order.Status
	view.UpdatedAt = order.UpdatedAt
	view.Version++

	_, createdHere := r.tx.created[order.ID]
	id, status, updatedAt := order.ID, order.Status, order.UpdatedAt
	r.tx.stage(
		func(s *Store) error {
			if createdHere {
				return nil
			}
			stored, ok := s.orders[id]
			if !ok {
				return domain.ErrOrderNotFound
			}
			if stored.Version != expected {
				return domain.ErrOrderVersionConflict
			}
			return nil
		},
		func(s *Store) {
			if stored, ok := s.orders[id]; ok {
				stored.Status = status
				stored.UpdatedAt = updatedAt
				stored.Version++
			}
		},
	)
	return nil
}

func (r *orderRepository) view(id string) (*domain.Order, error) {
	if order, ok := r.tx.orders[id]; ok {
		return order, nil
	}

	s := r.tx.store
	s.mu.RLock()
	stored, ok := s.orders[id]
	var order domain.Order
	if ok {
		order = cloneOrder(*stored)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	r.tx.orders[id] = &order
	return &order, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = cloneItems(src.Items)
	return dst
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	return append([]domain.OrderItem(nil), items...)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
