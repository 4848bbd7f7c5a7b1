package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type ledger struct {
	q querier
}

// LockProducts блокирует строки в порядке id; ожидание ограничено lock_timeout транзакции.
func (l *ledger) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	ids = domain.SortedUniqueIDs(ids)
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := l.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, storageErr("lock products", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageErr("scan locked product", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate locked products", err)
	}
	return result, nil
}

// TryReserve списывает остаток одним условным UPDATE, поэтому проверка и запись атомарны.
func (l *ledger) TryReserve(ctx context.Context, productID int64, qty int) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrQuantityInvalid
	}

	var remaining int
	err := l.q.QueryRowContext(ctx, `
		UPDATE products
		SET available = available - $2,
		    updated_at = $3
		WHERE id = $1
		  AND sellable
		  AND available >= $2
		RETURNING available
	`, productID, qty, time.Now().UTC()).Scan(&remaining)
	if err == nil {
		return domain.Reservation{ProductID: productID, Quantity: qty, Remaining: remaining}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, storageErr("reserve stock", err)
	}

	var (
		available int
		sellable  bool
	)
	err = l.q.QueryRowContext(ctx, `SELECT available, sellable FROM products WHERE id = $1`, productID).Scan(&available, &sellable)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !sellable) {
		return domain.Reservation{}, domain.ErrProductUnavailable
	}
	if err != nil {
		return domain.Reservation{}, storageErr("read stock", err)
	}
	return domain.Reservation{}, &domain.InsufficientStockError{ProductID: productID, Available: available, Requested: qty}
}

func (l *ledger) Release(ctx context.Context, productID int64, qty int) (domain.Release, error) {
	if qty <= 0 {
		return domain.Release{}, domain.ErrQuantityInvalid
	}

	var available, provisioned int
	err := l.q.QueryRowContext(ctx, `
		SELECT available, provisioned
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&available, &provisioned)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Release{ProductID: productID, Requested: qty, Clamped: qty}, nil
	}
	if err != nil {
		return domain.Release{}, storageErr("lock product for release", err)
	}

	released := min(qty, max(provisioned-available, 0))
	if released > 0 {
		if err := l.q.QueryRowContext(ctx, `
			UPDATE products
			SET available = available + $2,
			    updated_at = $3
			WHERE id = $1
			RETURNING available
		`, productID, released, time.Now().UTC()).Scan(&available); err != nil {
			return domain.Release{}, storageErr("release stock", err)
		}
	}

	return domain.Release{
		ProductID: productID,
		Requested: qty,
		Released:  released,
		Clamped:   qty - released,
		Available: available,
	}, nil
}

func (l *ledger) Provision(ctx context.Context, productID int64, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.ErrQuantityInvalid
	}

	p, err := scanProduct(l.q.QueryRowContext(ctx, `
		UPDATE products
		SET available = available + $2,
		    provisioned = provisioned + $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+productColumns,
		productID, qty, time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storageErr("provision stock", err)
	}
	return p, nil
}

var _ domain.StockLedger = (*ledger)(nil)
