package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий, которые уходят через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderCanceled      = "order.canceled"
	EventOrderStatusChanged = "order.status_changed"

	AggregateOrder = "order"
)

// OrderEventItem — позиция заказа в событии.
type OrderEventItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderEvent — полезная нагрузка событий заказа.
type OrderEvent struct {
	OrderID    string           `json:"order_id"`
	UserID     string           `json:"user_id"`
	Status     OrderStatus      `json:"status"`
	Previous   OrderStatus      `json:"previous_status,omitempty"`
	TotalPrice decimal.Decimal  `json:"total_price"`
	Items      []OrderEventItem `json:"items,omitempty"`
	Restocked  bool             `json:"restocked,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewOrderOutboxMessage собирает outbox-сообщение по событию заказа.
func NewOrderOutboxMessage(eventType string, order Order, previous OrderStatus, reason string, restocked bool) (OutboxMessage, error) {
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	payload, err := json.Marshal(OrderEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Previous:   previous,
		TotalPrice: order.TotalPrice(),
		Items:      items,
		Restocked:  restocked,
		Reason:     reason,
		OccurredAt: order.UpdatedAt,
	})
	if err != nil {
		return OutboxMessage{}, err
	}

	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
