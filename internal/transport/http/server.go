// Package httpapi — REST API витрины на gin.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const requestTimeout = 10 * time.Second

// Services — зависимости REST API.
type Services struct {
	Tokens   *auth.TokenManager
	Catalog  *catalog.Service
	Cart     *cart.Service
	Checkout *checkout.Coordinator
	Orders   *orders.Service
	// Idempotency может быть nil: тогда Idempotency-Key игнорируется.
	Idempotency *idempotency.Guard
}

// Server держит gin engine и сервисы.
type Server struct {
	engine *gin.Engine
	svc    Services
	logger *log.Entry
}

// NewServer собирает роутер.
func NewServer(svc Services, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	r := gin.New()
	r.Use(requestLogger(logger), gin.Recovery())
	s := &Server{engine: r, svc: svc, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.GET("", s.listProducts)
		products.GET("/:slug", s.getProduct)

		authed := v1.Group("", s.authenticate())

		cartGroup := authed.Group("/cart")
		cartGroup.GET("", s.getCart)
		cartGroup.GET("/summary", s.cartSummary)
		cartGroup.DELETE("", s.clearCart)
		cartGroup.POST("/items", s.addCartItem)
		cartGroup.PATCH("/items/:product_id", s.setCartItem)
		cartGroup.DELETE("/items/:product_id", s.removeCartItem)

		ordersGroup := authed.Group("/orders")
		ordersGroup.POST("/checkout", s.checkout)
		ordersGroup.GET("", s.listOrders)
		ordersGroup.GET("/:id", s.getOrder)
		ordersGroup.GET("/:id/timeline", s.orderTimeline)
		ordersGroup.POST("/:id/cancel", s.cancelOrder)

		admin := authed.Group("/admin", requireAdmin())
		admin.POST("/products", s.createProduct)
		admin.PATCH("/products/:id", s.updateProduct)
		admin.POST("/products/:id/restock", s.restockProduct)
		admin.PATCH("/orders/:id/status", s.updateOrderStatus)
	}
}
