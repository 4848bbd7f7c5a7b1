package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// querier — общее у *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithinTx открывает транзакцию READ COMMITTED с ограниченным ожиданием блокировок строк.
// Блокировки, взятые через SELECT ... FOR UPDATE, держатся до commit или rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
		return storageErr("set lock_timeout", err)
	}

	if err = fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return storageErr("commit tx", err)
	}
	return nil
}

type tx struct {
	q querier
}

func (t *tx) Ledger() domain.StockLedger { return &ledger{q: t.q} }

func (t *tx) Products() domain.ProductRepository { return &productRepository{q: t.q} }

func (t *tx) Carts() domain.CartRepository { return &cartRepository{q: t.q} }

func (t *tx) Orders() domain.OrderRepository { return &orderRepository{q: t.q} }

func (t *tx) Outbox() domain.OutboxWriter { return &outboxWriter{q: t.q} }

func (t *tx) Timeline() domain.TimelineWriter { return &timelineWriter{q: t.q} }

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Tx        = (*tx)(nil)
)
