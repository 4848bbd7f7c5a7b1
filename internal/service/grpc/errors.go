package grpcsvc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// toStatus переводит ошибку сервиса в gRPC status. Сообщения бизнес-ошибок
// содержат детали (товар, остаток, статусы), инфраструктурные скрываются.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var stock *domain.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		return status.Error(codes.FailedPrecondition, stock.Error())
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrProductNotSellable),
		errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCartNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrQuantityInvalid),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrPriceScale):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return status.Error(codes.Aborted, "request with the same idempotency key is still processing, retry later")
	case errors.Is(err, domain.ErrOrderVersionConflict), errors.Is(err, domain.ErrCartChanged):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrLockTimeout):
		return status.Error(codes.Unavailable, "resource is busy, retry the request")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func decodeStoredFailure(resp idempotency.Response) error {
	code, ok := grpcCodeFromInt(resp.Status)
	if !ok || code == codes.OK {
		code = codes.Internal
	}
	message := string(resp.Body)
	if message == "" {
		message = fmt.Sprintf("previous request with the same idempotency key failed with %s", code)
	}
	return status.Error(code, message)
}
