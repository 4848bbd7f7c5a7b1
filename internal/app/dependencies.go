package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	cartcache "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

const redisDialTimeout = 2 * time.Second

// runtimeDependencies — хранилище, выбранное по StorageDriver.
type runtimeDependencies struct {
	txm             domain.TxManager
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	// storageChecker nil для in-memory хранилища.
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает хранилище и при необходимости применяет миграции.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore(memory.WithLockTimeout(cfg.LockTimeout))
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			txm:             store,
			outboxRepo:      store.Outbox(),
			timelineRepo:    store.Timeline(),
			idempotencyRepo: store.Idempotency(),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires STORE_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithLockTimeout(cfg.LockTimeout),
			postgres.WithMaxOpenConns(cfg.PostgresMaxConns),
		)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			txm:             store,
			outboxRepo:      store.Outbox(),
			timelineRepo:    store.Timeline(),
			idempotencyRepo: store.Idempotency(),
			storageChecker:  healthcheck.NewPingChecker("postgres", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func closeDependencies(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initCartCache подключает Redis. Недоступный Redis не мешает старту: корзины читаются из БД.
func initCartCache(ctx context.Context, cfg Config, logger *log.Entry) (*cartcache.CartCache, *goredis.Client) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: redisDialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("redis недоступен, кэш корзин отключён")
		_ = client.Close()
		return nil, nil
	}

	logger.WithField("addr", addr).Info("cart cache connected")
	return cartcache.NewCartCache(client, cfg.CartCacheTTL), client
}

func closeRedis(client *goredis.Client, logger *log.Entry) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}
