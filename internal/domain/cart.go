package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CartLine — одна позиция корзины.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	// PriceSnapshot фиксируется при первом добавлении и больше не пересчитывается.
	PriceSnapshot decimal.Decimal `json:"price_snapshot"`
	AddedAt       time.Time       `json:"added_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LineTotal возвращает стоимость позиции по цене на момент добавления.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.PriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart — корзина пользователя, одна на пользователя.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Empty сообщает, что в корзине нет позиций.
func (c Cart) Empty() bool {
	return len(c.Lines) == 0
}

// Line возвращает позицию по товару.
func (c Cart) Line(productID int64) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return CartLine{}, false
}

// Total считает сумму корзины по ценам на момент добавления.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// ProductIDs возвращает уникальные id товаров по возрастанию.
func (c Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	return SortedUniqueIDs(ids)
}

// SortLines упорядочивает позиции так, как их видит снимок корзины.
func SortLines(lines []CartLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].AddedAt.Before(lines[j].AddedAt)
		}
		return lines[i].ProductID < lines[j].ProductID
	})
}

// SortedUniqueIDs убирает дубликаты и сортирует id по возрастанию.
// Этот порядок используется при взятии блокировок строк товаров.
func SortedUniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
