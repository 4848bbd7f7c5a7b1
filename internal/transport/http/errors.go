package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// lockRetryAfter — подсказка клиенту (Retry-After, секунды) при ErrLockTimeout.
const lockRetryAfter = 1

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Retry   bool           `json:"retry,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// describeError переводит ошибку сервиса в HTTP-статус и тело ответа.
// Инфраструктурные ошибки наружу не раскрываются.
func describeError(err error) (int, errorBody) {
	var (
		stock      *domain.InsufficientStockError
		notSell    *domain.ProductNotSellableError
		transition *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &stock):
		return http.StatusConflict, errorBody{
			Code:    "insufficient_stock",
			Message: err.Error(),
			Details: map[string]any{"product_id": stock.ProductID, "available": stock.Available, "requested": stock.Requested},
		}
	case errors.As(err, &notSell):
		return http.StatusUnprocessableEntity, errorBody{
			Code:    "product_not_sellable",
			Message: err.Error(),
			Details: map[string]any{"product_id": notSell.ProductID},
		}
	case errors.As(err, &transition):
		return http.StatusConflict, errorBody{
			Code:    "invalid_transition",
			Message: err.Error(),
			Details: map[string]any{"from": transition.From, "to": transition.To},
		}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, errorBody{Code: "empty_cart", Message: err.Error()}
	case errors.Is(err, domain.ErrProductUnavailable):
		return http.StatusConflict, errorBody{Code: "product_unavailable", Message: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Code: "forbidden", Message: err.Error()}
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrCartLineNotFound):
		return http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrQuantityInvalid),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrProductNameRequired),
		errors.Is(err, domain.ErrPriceInvalid),
		errors.Is(err, domain.ErrPriceScale):
		return http.StatusBadRequest, errorBody{Code: "invalid_argument", Message: err.Error()}
	case errors.Is(err, domain.ErrCartChanged):
		return http.StatusConflict, errorBody{Code: "cart_changed", Message: err.Error(), Retry: true}
	case errors.Is(err, domain.ErrSlugTaken), errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, errorBody{Code: "conflict", Message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, errorBody{Code: "idempotency_key_reused", Message: err.Error()}
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return http.StatusConflict, errorBody{Code: "request_in_progress", Message: err.Error(), Retry: true}
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable, errorBody{
			Code:    "lock_timeout",
			Message: "resource is busy, retry the request",
			Retry:   true,
		}
	default:
		return http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"}
	}
}

func writeError(c *gin.Context, err error) {
	status, body := describeError(err)
	if body.Code == "lock_timeout" {
		c.Header("Retry-After", strconv.Itoa(lockRetryAfter))
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func badRequest(c *gin.Context, message string) {
	abortWithError(c, http.StatusBadRequest, "invalid_argument", message)
}
