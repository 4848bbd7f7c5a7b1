// Package cart реализует операции над корзиной пользователя.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const invalidateTimeout = time.Second

// ErrCacheMiss возвращается кэшем, если снимка нет.
// Redis-кэш отдаёт свою ошибку, её сравнивают через IsMiss.
var ErrCacheMiss = errors.New("cart snapshot not cached")

// SnapshotCache хранит снимки корзин для чтения.
// Delete увеличивает счётчик инвалидаций, а Set пишет снимок, только если счётчик
// не изменился с момента Generation: загрузка, обогнанная изменением, не вернёт старый снимок в кэш.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Generation(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, cart domain.Cart, generation int64) (bool, error)
	Delete(ctx context.Context, userID string) error
}

// Summary — итог корзины для витрины.
type Summary struct {
	UserID    string          `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	LineCount int             `json:"line_count"`
	Units     int             `json:"units"`
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш снимков. isMiss распознаёт промах конкретной реализации.
func WithCache(cache SnapshotCache, isMiss func(error) bool) Option {
	return func(s *Service) {
		s.cache = cache
		if isMiss != nil {
			s.isMiss = isMiss
		}
	}
}

// WithMetrics подключает метрики кэша.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service управляет корзинами. Все изменения идут через транзакцию хранилища.
type Service struct {
	txm     domain.TxManager
	cache   SnapshotCache
	isMiss  func(error) bool
	metrics *metrics.StoreMetrics
	logger  *log.Entry
	sfg     singleflight.Group
	now     func() time.Time
}

// NewService создаёт сервис корзин.
func NewService(txm domain.TxManager, opts ...Option) *Service {
	s := &Service{
		txm:    txm,
		isMiss: func(err error) bool { return errors.Is(err, ErrCacheMiss) },
		logger: log.New().WithField("component", "cart"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem добавляет товар в корзину или увеличивает количество.
// Проверяет, что товар продаётся и что суммарное количество не превышает остаток.
// Корзина читается после блокировки товара: параллельные добавления того же товара
// видят количество друг друга.
func (s *Service) AddItem(ctx context.Context, userID string, productID int64, qty int) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	if qty <= 0 {
		return domain.Cart{}, domain.ErrQuantityInvalid
	}

	var result domain.Cart
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		product, err := lockSellable(ctx, tx, productID)
		if err != nil {
			return err
		}
		cart, err := tx.Carts().GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}

		merged := qty
		if line, ok := cart.Line(productID); ok {
			merged += line.Quantity
		}
		if product.Available < merged {
			return &domain.InsufficientStockError{ProductID: productID, Available: product.Available, Requested: merged}
		}

		now := s.now()
		if _, err := tx.Carts().AddLine(ctx, cart.ID, domain.CartLine{
			ProductID:     productID,
			Quantity:      qty,
			PriceSnapshot: product.Price,
			AddedAt:       now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		result, err = tx.Carts().Get(ctx, userID)
		return err
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.Invalidate(ctx, userID)
	return result, nil
}

// SetQuantity заменяет количество в существующей позиции.
func (s *Service) SetQuantity(ctx context.Context, userID string, productID int64, qty int) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	if qty <= 0 {
		return domain.Cart{}, domain.ErrQuantityInvalid
	}

	var result domain.Cart
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		product, err := lockSellable(ctx, tx, productID)
		if err != nil {
			return err
		}
		cart, err := existingCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, ok := cart.Line(productID); !ok {
			return domain.ErrCartLineNotFound
		}
		if product.Available < qty {
			return &domain.InsufficientStockError{ProductID: productID, Available: product.Available, Requested: qty}
		}
		if err := tx.Carts().SetLineQuantity(ctx, cart.ID, productID, qty); err != nil {
			return err
		}

		result, err = tx.Carts().Get(ctx, userID)
		return err
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.Invalidate(ctx, userID)
	return result, nil
}

// RemoveItem удаляет позицию без обращения к складу.
func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}

	var result domain.Cart
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := existingCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Carts().RemoveLine(ctx, cart.ID, productID); err != nil {
			return err
		}
		result, err = tx.Carts().Get(ctx, userID)
		return err
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.Invalidate(ctx, userID)
	return result, nil
}

// Clear удаляет все позиции. Пустая или отсутствующая корзина не ошибка.
func (s *Service) Clear(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domain.ErrUserRequired
	}

	var removed int
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed, err = tx.Carts().Clear(ctx, cart.ID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.Invalidate(ctx, userID)
	return removed, nil
}

// Snapshot возвращает упорядоченную копию корзины.
// При подключённом кэше одновременные промахи по одному пользователю схлопываются в одну загрузку.
func (s *Service) Snapshot(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	if s.cache == nil {
		return s.load(ctx, userID)
	}

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			s.metrics.CartCacheLookup("hit")
			return cached, nil
		}
		if s.isMiss(err) {
			s.metrics.CartCacheLookup("miss")
		} else {
			s.metrics.CartCacheLookup("error")
			s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache get failed")
		}

		generation, genErr := s.cache.Generation(ctx, userID)
		cart, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if genErr != nil {
			s.logger.WithError(genErr).WithField("user_id", userID).Warn("cart cache generation unavailable")
			return cart, nil
		}
		stored, err := s.cache.Set(ctx, cart, generation)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache set failed")
		} else if !stored {
			s.logger.WithField("user_id", userID).Debug("cart changed during load, snapshot not cached")
		}
		return cart, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	cart := v.(domain.Cart)
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cart, nil
}

// Summary считает сумму корзины по ценам на момент добавления.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	cart, err := s.Snapshot(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	units := 0
	for _, line := range cart.Lines {
		units += line.Quantity
	}
	return Summary{
		UserID:    cart.UserID,
		Total:     cart.Total(),
		LineCount: len(cart.Lines),
		Units:     units,
	}, nil
}

// Invalidate сбрасывает снимок в кэше. Ошибки кэша только логируются.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache invalidate failed")
	}
}

func (s *Service) load(ctx context.Context, userID string) (domain.Cart, error) {
	var cart domain.Cart
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		cart, err = tx.Carts().Get(ctx, userID)
		return err
	})
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{UserID: userID, Lines: []domain.CartLine{}}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	return cart, nil
}

func existingCart(ctx context.Context, tx domain.Tx, userID string) (domain.Cart, error) {
	cart, err := tx.Carts().Get(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{}, domain.ErrCartLineNotFound
	}
	return cart, err
}

// lockSellable блокирует строку товара; отсутствующий товар считается непродаваемым.
func lockSellable(ctx context.Context, tx domain.Tx, productID int64) (domain.Product, error) {
	locked, err := tx.Ledger().LockProducts(ctx, []int64{productID})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := locked[productID]
	if !ok || !product.Sellable {
		return domain.Product{}, &domain.ProductNotSellableError{ProductID: productID}
	}
	return product, nil
}
