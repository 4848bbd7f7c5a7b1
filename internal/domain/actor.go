package domain

// Actor — аутентифицированный инициатор запроса.
type Actor struct {
	UserID string
	Admin  bool
}

// CanAccessOrder сообщает, может ли actor читать или отменять заказ.
func (a Actor) CanAccessOrder(order Order) bool {
	return a.Admin || order.OwnedBy(a.UserID)
}
