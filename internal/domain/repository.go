package domain

import "context"

// TxManager выполняет fn в одной транзакции хранилища.
// Если fn вернула ошибку, все изменения откатываются; блокировки строк снимаются в конце транзакции.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx даёт доступ к репозиториям в рамках одной транзакции.
type Tx interface {
	Ledger() StockLedger
	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Outbox() OutboxWriter
	Timeline() TimelineWriter
}

// StockLedger — единственный владелец складского остатка.
type StockLedger interface {
	// LockProducts берёт эксклюзивные блокировки строк товаров в порядке возрастания id
	// и держит их до конца транзакции. Отсутствующих товаров в результате нет.
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	// TryReserve атомарно списывает qty единиц под блокировкой строки.
	TryReserve(ctx context.Context, productID int64, qty int) (Reservation, error)
	// Release возвращает qty единиц, не превышая Provisioned.
	Release(ctx context.Context, productID int64, qty int) (Release, error)
	// Provision принимает поставку: растут и Available, и Provisioned.
	Provision(ctx context.Context, productID int64, qty int) (Product, error)
}

// ProductRepository хранит карточки товаров. Остатки здесь не меняются.
type ProductRepository interface {
	Create(ctx context.Context, product Product) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetBySlug(ctx context.Context, slug string) (Product, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// UpdateDetails сохраняет название, описание, цену и признак продажи.
	UpdateDetails(ctx context.Context, product Product) (Product, error)
}

// CartRepository хранит корзины; у пользователя одна корзина.
type CartRepository interface {
	// GetOrCreate возвращает корзину пользователя, создавая её при первом обращении.
	GetOrCreate(ctx context.Context, userID string) (Cart, error)
	// Get возвращает корзину или ErrCartNotFound.
	Get(ctx context.Context, userID string) (Cart, error)
	// AddLine добавляет позицию или увеличивает количество существующей.
	AddLine(ctx context.Context, cartID string, line CartLine) (CartLine, error)
	SetLineQuantity(ctx context.Context, cartID string, productID int64, qty int) error
	RemoveLine(ctx context.Context, cartID string, productID int64) error
	// Clear удаляет все позиции и возвращает их количество.
	Clear(ctx context.Context, cartID string) (int, error)
	// ClearLines удаляет ровно позиции снимка cart. Если после чтения снимка позиция
	// пропала или её количество изменилось, возвращает ErrCartChanged.
	// Позиции, добавленные позже снимка, остаются в корзине.
	ClearLines(ctx context.Context, cart Cart) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ без позиций.
	Create(ctx context.Context, order Order) error
	// AddItem добавляет позицию к созданному заказу.
	AddItem(ctx context.Context, orderID string, item OrderItem) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// UpdateStatus меняет статус с учётом optimistic locking по version.
	UpdateStatus(ctx context.Context, order Order) error
}

// OutboxWriter добавляет события в transactional outbox внутри транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// TimelineWriter пишет историю заказа внутри транзакции.
type TimelineWriter interface {
	Append(ctx context.Context, event TimelineEvent) error
}
