package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultLockTimeout = 2 * time.Second

// Store — in-memory хранилище витрины с транзакциями и блокировками строк товаров.
// Изменения транзакции копятся в ней и применяются целиком при commit.
type Store struct {
	mu            sync.RWMutex
	products      map[int64]*domain.Product
	nextProductID int64
	carts         map[string]*domain.Cart // по cart id
	cartByUser    map[string]string
	orders        map[string]*domain.Order

	locksMu     sync.Mutex
	rowLocks    map[int64]chan struct{}
	lockTimeout time.Duration

	outbox      *outboxRepositoryInMemory
	timeline    *timelineRepositoryInMemory
	idempotency *idempotencyRepositoryInMemory
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout задаёт максимальное ожидание блокировки строки товара.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products:    make(map[int64]*domain.Product),
		carts:       make(map[string]*domain.Cart),
		cartByUser:  make(map[string]string),
		orders:      make(map[string]*domain.Order),
		rowLocks:    make(map[int64]chan struct{}),
		lockTimeout: defaultLockTimeout,
		outbox:      NewOutboxRepository(),
		timeline:    newTimelineRepository(),
		idempotency: newIdempotencyRepository(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outbox возвращает outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository { return s.outbox }

// Timeline возвращает историю заказов.
func (s *Store) Timeline() domain.TimelineRepository { return s.timeline }

// Idempotency возвращает хранилище ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository { return s.idempotency }

// PendingOutbox возвращает все неотправленные события (используется в тестах).
func (s *Store) PendingOutbox() []domain.OutboxMessage { return s.outbox.AllPending() }

// WithinTx выполняет fn в транзакции. Блокировки строк снимаются после commit или rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := newTx(s)
	defer t.unlockAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) rowLock(id int64) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

// acquire ждёт блокировку строки не дольше lockTimeout.
func (s *Store) acquire(ctx context.Context, id int64) error {
	ch := s.rowLock(id)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(id int64) {
	<-s.rowLock(id)
}

// tx копит изменения до commit. Проверки выполняются перед применением,
// поэтому commit либо применяет всё, либо ничего.
type tx struct {
	store *Store
	held  map[int64]struct{}
	order []int64

	products map[int64]*domain.Product
	carts    map[string]*domain.Cart
	orders   map[string]*domain.Order
	created  map[string]struct{}

	checks   []func(s *Store) error
	apply    []func(s *Store)
	outbox   []outboxRecord
	timeline []domain.TimelineEvent
}

func newTx(s *Store) *tx {
	return &tx{
		store:    s,
		held:     make(map[int64]struct{}),
		products: make(map[int64]*domain.Product),
		carts:    make(map[string]*domain.Cart),
		orders:   make(map[string]*domain.Order),
		created:  make(map[string]struct{}),
	}
}

func (t *tx) Ledger() domain.StockLedger { return &ledger{tx: t} }

func (t *tx) Products() domain.ProductRepository { return &productRepository{tx: t} }

func (t *tx) Carts() domain.CartRepository { return &cartRepository{tx: t} }

func (t *tx) Orders() domain.OrderRepository { return &orderRepository{tx: t} }

func (t *tx) Outbox() domain.OutboxWriter { return &outboxWriter{tx: t} }

func (t *tx) Timeline() domain.TimelineWriter { return &timelineWriter{tx: t} }

// stage откладывает изменение до commit; check выполняется до любых изменений.
func (t *tx) stage(check func(*Store) error, fn func(*Store)) {
	if check != nil {
		t.checks = append(t.checks, check)
	}
	t.apply = append(t.apply, fn)
}

// lock берёт блокировку строки, если транзакция ещё её не держит.
func (t *tx) lock(ctx context.Context, id int64) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	if err := t.store.acquire(ctx, id); err != nil {
		return err
	}
	t.held[id] = struct{}{}
	t.order = append(t.order, id)
	return nil
}

func (t *tx) unlockAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.store.release(t.order[i])
	}
	t.order = nil
	t.held = make(map[int64]struct{})
}

func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, check := range t.checks {
		if err := check(s); err != nil {
			return err
		}
	}
	for _, fn := range t.apply {
		fn(s)
	}
	for _, rec := range t.outbox {
		s.outbox.insert(rec)
	}
	for _, event := range t.timeline {
		s.timeline.append(event)
	}
	return nil
}

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Tx        = (*tx)(nil)
)
