package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart — попытка оформить заказ из пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrProductNotSellable — товар снят с продажи или удалён.
	ErrProductNotSellable = errors.New("product is not sellable")
	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductUnavailable — товар недоступен для резерва (нет строки или не продаётся).
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrForbidden — у инициатора нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition — переход статуса заказа запрещён.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrLockTimeout — не удалось взять блокировку строк за отведённое время, можно повторить.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrStorageFault — инфраструктурная ошибка хранилища, можно повторить.
	ErrStorageFault = errors.New("storage fault")

	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCartNotFound возвращается, если корзина пользователя ещё не создана.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartChanged — корзина изменилась после чтения в этой транзакции; повтор перечитает её.
	ErrCartChanged = errors.New("cart changed concurrently")
	// ErrCartLineNotFound — в корзине нет позиции с таким товаром.
	ErrCartLineNotFound = errors.New("cart line not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrQuantityInvalid — количество должно быть положительным.
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// ErrInvalidStatus — неизвестный статус заказа.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrUserRequired — не передан идентификатор пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// ErrProductNameRequired — у товара должно быть название.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrPriceInvalid — цена не может быть отрицательной.
	ErrPriceInvalid = errors.New("price must be non-negative")
	// ErrPriceScale — у цены больше двух знаков после запятой.
	ErrPriceScale = errors.New("price must have at most 2 decimal places")
	// ErrSlugTaken — slug уже занят другим товаром.
	ErrSlugTaken = errors.New("product slug already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// InsufficientStockError несёт детали нехватки остатка по конкретному товару.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProductNotSellableError указывает товар, который нельзя продать.
type ProductNotSellableError struct {
	ProductID int64
}

func (e *ProductNotSellableError) Error() string {
	return fmt.Sprintf("product %d is not sellable", e.ProductID)
}

func (e *ProductNotSellableError) Is(target error) bool {
	return target == ErrProductNotSellable
}

// InvalidTransitionError описывает запрещённый переход статуса.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsRetryable сообщает, что операцию можно повторить целиком.
// Бизнес-ошибки повторять бессмысленно: результат будет тем же.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStorageFault) || errors.Is(err, ErrCartChanged)
}

// IsBusiness сообщает, что ошибка вызвана нарушением бизнес-правила и несёт детали для клиента.
func IsBusiness(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrProductNotSellable),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrProductUnavailable),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidTransition):
		return true
	default:
		return false
	}
}
