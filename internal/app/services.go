package app

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	cartcache "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
	httpapi "github.com/vladislavdragonenkov/storefront/internal/transport/http"
)

// services — прикладной слой, общий для REST и gRPC.
type services struct {
	tokens   *auth.TokenManager
	catalog  *catalog.Service
	cart     *cart.Service
	checkout *checkout.Coordinator
	orders   *orders.Service
	guard    *idempotency.Guard
}

// buildServices собирает сервисы поверх выбранного хранилища. cache может быть nil.
func buildServices(cfg Config, deps *runtimeDependencies, cache *cartcache.CartCache, m *metrics.StoreMetrics, logger *log.Entry) (*services, error) {
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}

	cartOpts := []cart.Option{
		cart.WithLogger(logger.WithField("component", "cart")),
		cart.WithMetrics(m),
	}
	if cache != nil {
		cartOpts = append(cartOpts, cart.WithCache(cache, func(err error) bool {
			return errors.Is(err, cartcache.ErrCacheMiss)
		}))
	}
	cartSvc := cart.NewService(deps.txm, cartOpts...)

	retry := checkout.DefaultRetryConfig()
	if cfg.CheckoutMaxAttempts > 0 {
		retry.MaxAttempts = cfg.CheckoutMaxAttempts
	}
	if cfg.CheckoutRetryDelay > 0 {
		retry.InitialDelay = cfg.CheckoutRetryDelay
	}

	return &services{
		tokens:  tokens,
		catalog: catalog.NewService(deps.txm, logger.WithField("component", "catalog")),
		cart:    cartSvc,
		checkout: checkout.NewCoordinator(deps.txm,
			checkout.WithLogger(logger.WithField("component", "checkout")),
			checkout.WithCartInvalidator(cartSvc),
			checkout.WithRetryConfig(retry),
			checkout.WithMetrics(m),
		),
		orders: orders.NewService(deps.txm, deps.timelineRepo, orders.Config{
			RestockOnCancel:         cfg.RestockOnCancel,
			StrictStatusTransitions: cfg.StrictStatusTransitions,
		},
			orders.WithLogger(logger.WithField("component", "orders")),
			orders.WithMetrics(m),
		),
		guard: idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency")),
	}, nil
}

func (s *services) httpServices() httpapi.Services {
	return httpapi.Services{
		Tokens:      s.tokens,
		Catalog:     s.catalog,
		Cart:        s.cart,
		Checkout:    s.checkout,
		Orders:      s.orders,
		Idempotency: s.guard,
	}
}
