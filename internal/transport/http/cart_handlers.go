package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addItemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

func (s *Server) getCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := s.svc.Cart.Snapshot(ctx, actorFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(cart))
}

func (s *Server) cartSummary(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	summary, err := s.svc.Cart.Summary(ctx, actorFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) addCartItem(c *gin.Context) {
	var req addItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.ProductID <= 0 {
		badRequest(c, "invalid product_id")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := s.svc.Cart.AddItem(ctx, actorFrom(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(cart))
}

func (s *Server) setCartItem(c *gin.Context) {
	productID, ok := pathID(c, "product_id")
	if !ok {
		return
	}
	var req setQuantityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := s.svc.Cart.SetQuantity(ctx, actorFrom(c).UserID, productID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(cart))
}

func (s *Server) removeCartItem(c *gin.Context) {
	productID, ok := pathID(c, "product_id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	cart, err := s.svc.Cart.RemoveItem(ctx, actorFrom(c).UserID, productID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(cart))
}

func (s *Server) clearCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	removed, err := s.svc.Cart.Clear(ctx, actorFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
