package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineOrderCanceled      = "OrderCanceled"
	TimelineStockReleased      = "StockReleased"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID string
	Type    string
	// Status — статус заказа после события.
	Status   OrderStatus
	ActorID  string
	Reason   string
	Occurred time.Time
}
