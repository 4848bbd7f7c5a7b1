package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateSerializationFailure = "40001"
)

// storageErr переводит ошибку драйвера в доменную: ожидание блокировки и deadlock
// становятся ErrLockTimeout, остальное в ErrStorageFault. Отмена контекста не оборачивается.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch pgCode(err) {
	case sqlStateLockNotAvailable, sqlStateDeadlockDetected, sqlStateSerializationFailure:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrLockTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageFault, err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == sqlStateUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == sqlStateForeignKeyViolation
}
