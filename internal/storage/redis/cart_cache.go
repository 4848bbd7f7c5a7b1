package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCartTTL = 15 * time.Minute
	generationTTL  = 24 * time.Hour
)

// ErrCacheMiss — в кэше нет снимка корзины.
var ErrCacheMiss = errors.New("cart cache miss")

// CartCache хранит снимки корзин в Redis под ключом cart:<user_id>.
type CartCache struct {
	client  goredis.UniversalClient
	baseTTL time.Duration
}

// NewCartCache создаёт кэш корзин; ttl<=0 означает значение по умолчанию.
func NewCartCache(client goredis.UniversalClient, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &CartCache{client: client, baseTTL: ttl}
}

func (c *CartCache) Get(ctx context.Context, userID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Cart{}, ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return cart, nil
}

// Generation возвращает счётчик инвалидаций корзины; 0, если их ещё не было.
// Его читают до загрузки корзины из хранилища и передают в Set.
func (c *CartCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set сохраняет снимок, только если счётчик инвалидаций всё ещё равен generation.
// Снимок, загруженный до чужой инвалидации, не записывается: возвращается false.
// TTL получает небольшой разброс, чтобы ключи не истекали одновременно.
func (c *CartCache) Set(ctx context.Context, cart domain.Cart, generation int64) (bool, error) {
	payload, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := c.baseTTL + time.Duration(rand.Int64N(int64(c.baseTTL/10)+1))
	genKey := generationKey(cart.UserID)
	stored := false
	err = c.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(cart.UserID), payload, ttl)
			return nil
		}); err != nil {
			return err
		}
		stored = true
		return nil
	}, genKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set failed: %w", err)
	}
	return stored, nil
}

// Delete удаляет снимок и увеличивает счётчик инвалидаций одной транзакцией.
func (c *CartCache) Delete(ctx context.Context, userID string) error {
	genKey := generationKey(userID)
	if _, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	}); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis для readiness.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart-gen:%s", userID)
}
