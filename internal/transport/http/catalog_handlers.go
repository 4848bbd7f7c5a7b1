package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
)

func (s *Server) listProducts(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := s.svc.Catalog.List(ctx, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	result := make([]productResponse, 0, len(list))
	for _, p := range list {
		result = append(result, toProduct(p))
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getProduct(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := s.svc.Catalog.GetBySlug(ctx, c.Param("slug"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProduct(p))
}

func (s *Server) createProduct(c *gin.Context) {
	var req catalog.NewProduct
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := s.svc.Catalog.Create(ctx, actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAdminProduct(p))
}

func (s *Server) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch catalog.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := s.svc.Catalog.Update(ctx, actorFrom(c), id, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAdminProduct(p))
}

type restockReq struct {
	Quantity int `json:"quantity"`
}

func (s *Server) restockProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req restockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	p, err := s.svc.Catalog.Restock(ctx, actorFrom(c), id, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAdminProduct(p))
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		badRequest(c, "invalid limit")
		return 0, false
	}
	return limit, true
}
