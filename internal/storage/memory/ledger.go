package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type ledger struct {
	tx *tx
}

// lockedProduct берёт блокировку строки и возвращает рабочую копию товара транзакции.
func (t *tx) lockedProduct(ctx context.Context, id int64) (*domain.Product, bool, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, false, err
	}
	if p, ok := t.products[id]; ok {
		return p, true, nil
	}

	t.store.mu.RLock()
	stored, ok := t.store.products[id]
	var p domain.Product
	if ok {
		p = *stored
	}
	t.store.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	t.products[id] = &p
	return &p, true, nil
}

// readProduct читает товар без блокировки.
func (t *tx) readProduct(id int64) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return *p, true
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	stored, ok := t.store.products[id]
	if !ok {
		return domain.Product{}, false
	}
	return *stored, true
}

func (l *ledger) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range domain.SortedUniqueIDs(ids) {
		p, ok, err := l.tx.lockedProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			result[id] = *p
		}
	}
	return result, nil
}

func (l *ledger) TryReserve(ctx context.Context, productID int64, qty int) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrQuantityInvalid
	}

	p, ok, err := l.tx.lockedProduct(ctx, productID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !ok || !p.Sellable {
		return domain.Reservation{}, domain.ErrProductUnavailable
	}
	if p.Available < qty {
		return domain.Reservation{}, &domain.InsufficientStockError{ProductID: productID, Available: p.Available, Requested: qty}
	}

	p.Available -= qty
	l.tx.stage(nil, func(s *Store) {
		if stored, ok := s.products[productID]; ok {
			stored.Available -= qty
		}
	})

	return domain.Reservation{ProductID: productID, Quantity: qty, Remaining: p.Available}, nil
}

func (l *ledger) Release(ctx context.Context, productID int64, qty int) (domain.Release, error) {
	if qty <= 0 {
		return domain.Release{}, domain.ErrQuantityInvalid
	}

	p, ok, err := l.tx.lockedProduct(ctx, productID)
	if err != nil {
		return domain.Release{}, err
	}
	if !ok {
		// Товар удалён из каталога: возвращать некуда.
		return domain.Release{ProductID: productID, Requested: qty, Clamped: qty}, nil
	}

	released := min(qty, max(p.Provisioned-p.Available, 0))
	p.Available += released
	if released > 0 {
		l.tx.stage(nil, func(s *Store) {
			if stored, ok := s.products[productID]; ok {
				stored.Available += released
			}
		})
	}

	return domain.Release{
		ProductID: productID,
		Requested: qty,
		Released:  released,
		Clamped:   qty - released,
		Available: p.Available,
	}, nil
}

func (l *ledger) Provision(ctx context.Context, productID int64, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.ErrQuantityInvalid
	}

	p, ok, err := l.tx.lockedProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	p.Available += qty
	p.Provisioned += qty
	l.tx.stage(nil, func(s *Store) {
		if stored, ok := s.products[productID]; ok {
			stored.Available += qty
			stored.Provisioned += qty
		}
	})
	return *p, nil
}

var _ domain.StockLedger = (*ledger)(nil)
