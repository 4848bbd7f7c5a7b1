package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	tx *tx
}

// GetOrCreate создаёт пустую корзину сразу, вне транзакции: откат её не удаляет.
func (r *cartRepository) GetOrCreate(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}

	s := r.tx.store
	s.mu.Lock()
	if _, ok := s.cartByUser[userID]; !ok {
		now := time.Now().UTC()
		cart := &domain.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.carts[cart.ID] = cart
		s.cartByUser[userID] = cart.ID
	}
	s.mu.Unlock()

	return r.Get(ctx, userID)
}

func (r *cartRepository) Get(_ context.Context, userID string) (domain.Cart, error) {
	s := r.tx.store
	s.mu.RLock()
	cartID, ok := s.cartByUser[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	view, err := r.view(cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return cloneCart(*view), nil
}

func (r *cartRepository) AddLine(_ context.Context, cartID string, line domain.CartLine) (domain.CartLine, error) {
	if line.Quantity <= 0 {
		return domain.CartLine{}, domain.ErrQuantityInvalid
	}
	view, err := r.view(cartID)
	if err != nil {
		return domain.CartLine{}, err
	}

	now := time.Now().UTC()
	line.AddedAt = now
	line.UpdatedAt = now
	merged := mergeLine(view, line)

	r.tx.stage(nil, func(s *Store) {
		if cart, ok := s.carts[cartID]; ok {
			mergeLine(cart, line)
		}
	})
	return merged, nil
}

func (r *cartRepository) SetLineQuantity(_ context.Context, cartID string, productID int64, qty int) error {
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	view, err := r.view(cartID)
	if err != nil {
		return err
	}

	idx := lineIndex(view, productID)
	if idx < 0 {
		return domain.ErrCartLineNotFound
	}
	now := time.Now().UTC()
	view.Lines[idx].Quantity = qty
	view.Lines[idx].UpdatedAt = now
	view.UpdatedAt = now

	r.tx.stage(nil, func(s *Store) {
		cart, ok := s.carts[cartID]
		if !ok {
			return
		}
		if i := lineIndex(cart, productID); i >= 0 {
			cart.Lines[i].Quantity = qty
			cart.Lines[i].UpdatedAt = now
			cart.UpdatedAt = now
		}
	})
	return nil
}

func (r *cartRepository) RemoveLine(_ context.Context, cartID string, productID int64) error {
	view, err := r.view(cartID)
	if err != nil {
		return err
	}
	if !removeLine(view, productID) {
		return domain.ErrCartLineNotFound
	}

	r.tx.stage(nil, func(s *Store) {
		if cart, ok := s.carts[cartID]; ok {
			removeLine(cart, productID)
		}
	})
	return nil
}

func (r *cartRepository) Clear(_ context.Context, cartID string) (int, error) {
	view, err := r.view(cartID)
	if err != nil {
		return 0, err
	}
	removed := len(view.Lines)
	view.Lines = nil

	r.tx.stage(nil, func(s *Store) {
		if cart, ok := s.carts[cartID]; ok {
			cart.Lines = nil
			cart.UpdatedAt = time.Now().UTC()
		}
	})
	return removed, nil
}

// ClearLines проверяет при commit, что сохранённые позиции снимка не менялись,
// и только тогда удаляет их.
func (r *cartRepository) ClearLines(_ context.Context, cart domain.Cart) error {
	if len(cart.Lines) == 0 {
		return nil
	}
	view, err := r.view(cart.ID)
	if err != nil {
		return err
	}

	expected := make(map[int64]int, len(cart.Lines))
	for _, line := range cart.Lines {
		expected[line.ProductID] = line.Quantity
		removeLine(view, line.ProductID)
	}

	r.tx.stage(func(s *Store) error {
		stored, ok := s.carts[cart.ID]
		if !ok {
			return domain.ErrCartChanged
		}
		for productID, qty := range expected {
			i := lineIndex(stored, productID)
			if i < 0 || stored.Lines[i].Quantity != qty {
				return domain.ErrCartChanged
			}
		}
		return nil
	}, func(s *Store) {
		if stored, ok := s.carts[cart.ID]; ok {
			for productID := range expected {
				removeLine(stored, productID)
			}
		}
	})
	return nil
}

// view возвращает рабочую копию корзины в транзакции.
func (r *cartRepository) view(cartID string) (*domain.Cart, error) {
	if cart, ok := r.tx.carts[cartID]; ok {
		return cart, nil
	}

	s := r.tx.store
	s.mu.RLock()
	stored, ok := s.carts[cartID]
	var cart domain.Cart
	if ok {
		cart = cloneCart(*stored)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCartNotFound
	}

	r.tx.carts[cartID] = &cart
	return &cart, nil
}

func mergeLine(cart *domain.Cart, line domain.CartLine) domain.CartLine {
	cart.UpdatedAt = line.UpdatedAt
	if i := lineIndex(cart, line.ProductID); i >= 0 {
		cart.Lines[i].Quantity += line.Quantity
		cart.Lines[i].UpdatedAt = line.UpdatedAt
		return cart.Lines[i]
	}
	cart.Lines = append(cart.Lines, line)
	return line
}

func removeLine(cart *domain.Cart, productID int64) bool {
	i := lineIndex(cart, productID)
	if i < 0 {
		return false
	}
	cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
	cart.UpdatedAt = time.Now().UTC()
	return true
}

func lineIndex(cart *domain.Cart, productID int64) int {
	for i, line := range cart.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneCart(src domain.Cart) domain.Cart {
	dst := src
	dst.Lines = append([]domain.CartLine(nil), src.Lines...)
	domain.SortLines(dst.Lines)
	return dst
}

var _ domain.CartRepository = (*cartRepository)(nil)
