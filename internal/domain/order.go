package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew — заказ только что оформлен из корзины.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusProcessing — заказ принят в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted — заказ получен покупателем.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled — заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
)

// forwardChain задаёт порядок статусов, по которому администратор двигает заказ.
var forwardChain = []OrderStatus{
	OrderStatusNew,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCompleted,
}

// ParseOrderStatus проверяет, что строка задаёт известный статус.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusProcessing, OrderStatusShipped, OrderStatusCompleted, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Cancelable сообщает, можно ли отменить заказ в этом статусе.
func (s OrderStatus) Cancelable() bool {
	return s == OrderStatusNew || s == OrderStatusProcessing
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

func (s OrderStatus) rank() int {
	for i, st := range forwardChain {
		if st == s {
			return i
		}
	}
	return -1
}

// CheckForward проверяет административный переход вперёд по цепочке
// new → processing → shipped → completed. При strict разрешён только следующий шаг.
// Отмена сюда не входит: у неё свои правила, см. CheckCancel.
func CheckForward(from, to OrderStatus, strict bool) error {
	if !to.Valid() || to == OrderStatusCanceled {
		return &InvalidTransitionError{From: from, To: to}
	}
	fromRank, toRank := from.rank(), to.rank()
	if from.Terminal() || fromRank < 0 || toRank <= fromRank {
		return &InvalidTransitionError{From: from, To: to}
	}
	if strict && toRank != fromRank+1 {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// CheckCancel проверяет, что заказ можно отменить.
func CheckCancel(from OrderStatus) error {
	if !from.Cancelable() {
		return &InvalidTransitionError{From: from, To: OrderStatusCanceled}
	}
	return nil
}

// OrderItem — неизменяемая позиция заказа.
type OrderItem struct {
	ID        string `json:"id"`
	ProductID int64  `json:"product_id"`
	// ProductName сохраняется, чтобы история заказа не зависела от каталога.
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	// Price — цена за единицу на момент оформления.
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Total возвращает стоимость позиции.
func (i OrderItem) Total() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Status    OrderStatus `json:"status"`
	Items     []OrderItem `json:"items"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TotalPrice всегда пересчитывается по позициям и нигде не хранится.
func (o Order) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Total())
	}
	return total
}

// OwnedBy сообщает, принадлежит ли заказ пользователю.
func (o Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrPriceInvalid)
		}
	}

	return errs
}
