package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	q querier
}

func (r *cartRepository) GetOrCreate(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}

	now := time.Now().UTC()
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1,$2,$3,$3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.NewString(), userID, now); err != nil {
		return domain.Cart{}, storageErr("insert cart", err)
	}

	return r.Get(ctx, userID)
}

func (r *cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	var cart domain.Cart
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, storageErr("select cart", err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, quantity, price_snapshot, added_at, updated_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY added_at ASC, product_id ASC
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, storageErr("select cart items", err)
	}
	defer rows.Close()

	cart.Lines = make([]domain.CartLine, 0)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.PriceSnapshot, &line.AddedAt, &line.UpdatedAt); err != nil {
			return domain.Cart{}, storageErr("scan cart item", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, storageErr("iterate cart items", err)
	}
	return cart, nil
}

// AddLine делает upsert: повторное добавление того же товара увеличивает количество,
// а цена остаётся той, что была при первом добавлении.
func (r *cartRepository) AddLine(ctx context.Context, cartID string, line domain.CartLine) (domain.CartLine, error) {
	if line.Quantity <= 0 {
		return domain.CartLine{}, domain.ErrQuantityInvalid
	}

	now := time.Now().UTC()
	var merged domain.CartLine
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity, price_snapshot, added_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
		RETURNING product_id, quantity, price_snapshot, added_at, updated_at
	`, cartID, line.ProductID, line.Quantity, line.PriceSnapshot, now).Scan(
		&merged.ProductID, &merged.Quantity, &merged.PriceSnapshot, &merged.AddedAt, &merged.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.CartLine{}, domain.ErrCartNotFound
		}
		return domain.CartLine{}, storageErr("upsert cart item", err)
	}

	if err := r.touch(ctx, cartID, now); err != nil {
		return domain.CartLine{}, err
	}
	return merged, nil
}

func (r *cartRepository) SetLineQuantity(ctx context.Context, cartID string, productID int64, qty int) error {
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}

	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		UPDATE cart_items
		SET quantity = $3,
		    updated_at = $4
		WHERE cart_id = $1
		  AND product_id = $2
	`, cartID, productID, qty, now)
	if err != nil {
		return storageErr("update cart item", err)
	}
	if err := expectAffected(res, domain.ErrCartLineNotFound); err != nil {
		return err
	}
	return r.touch(ctx, cartID, now)
}

func (r *cartRepository) RemoveLine(ctx context.Context, cartID string, productID int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return storageErr("delete cart item", err)
	}
	if err := expectAffected(res, domain.ErrCartLineNotFound); err != nil {
		return err
	}
	return r.touch(ctx, cartID, time.Now().UTC())
}

func (r *cartRepository) Clear(ctx context.Context, cartID string) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, storageErr("clear cart", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear cart rows affected", err)
	}
	if err := r.touch(ctx, cartID, time.Now().UTC()); err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *cartRepository) touch(ctx context.Context, cartID string, at time.Time) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, at); err != nil {
		return storageErr("touch cart", err)
	}
	return nil
}

func (r *cartRepository) ClearLines(ctx context.Context, cart domain.Cart) error {
	if len(cart.Lines) == 0 {
		return nil
	}

	expected := make(map[int64]int, len(cart.Lines))
	ids := make([]int64, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		expected[line.ProductID] = line.Quantity
		ids = append(ids, line.ProductID)
	}

	rows, err := r.q.QueryContext(ctx, `
		DELETE FROM cart_items
		WHERE cart_id = $1 AND product_id = ANY($2)
		RETURNING product_id, quantity
	`, cart.ID, ids)
	if err != nil {
		return storageErr("clear cart lines", err)
	}
	defer rows.Close()

	removed := 0
	changed := false
	for rows.Next() {
		var (
			productID int64
			qty       int
		)
		if err := rows.Scan(&productID, &qty); err != nil {
			return storageErr("scan cleared cart line", err)
		}
		removed++
		if want, ok := expected[productID]; !ok || want != qty {
			changed = true
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr("iterate cleared cart lines", err)
	}
	if changed || removed != len(cart.Lines) {
		return domain.ErrCartChanged
	}
	return r.touch(ctx, cart.ID, time.Now().UTC())
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
