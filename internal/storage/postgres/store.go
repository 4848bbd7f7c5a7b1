package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingTimeout        = 5 * time.Second
	defaultLockTimeout = 2 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// poolSettings задаёт лимиты пула database/sql.
type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

var defaultPool = poolSettings{
	maxOpen:     25,
	maxIdle:     25,
	maxLifetime: 30 * time.Minute,
	maxIdleTime: 5 * time.Minute,
}

// Store хранит каталог, корзины, заказы и служебные таблицы в PostgreSQL через драйвер pgx.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	pool        poolSettings
}

type Option func(*Store)

// WithLockTimeout ограничивает ожидание блокировок строк в WithinTx (SET LOCAL lock_timeout).
// Непозитивное значение игнорируется.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithMaxOpenConns меняет размер пула; idle-соединений держится столько же.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pool.maxOpen = n
			s.pool.maxIdle = n
		}
	}
}

// Open подключается по dsn и проверяет соединение. Схема не трогается:
// для неё есть EnsureSchema и MigrateUp.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{lockTimeout: defaultLockTimeout, pool: defaultPool}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(s.pool.maxOpen)
	db.SetMaxIdleConns(s.pool.maxIdle)
	db.SetConnMaxLifetime(s.pool.maxLifetime)
	db.SetConnMaxIdleTime(s.pool.maxIdleTime)
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// DB отдаёт пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-проверкой готовности.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema доводит схему до последней версии.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
