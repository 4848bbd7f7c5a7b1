package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// HeaderReplayed выставляется, когда ответ взят из хранилища идемпотентности.
const HeaderReplayed = "Idempotent-Replayed"

const maxCheckoutBody = 64 << 10

// checkout оформляет заказ из корзины. С заголовком Idempotency-Key повтор запроса
// возвращает сохранённый ответ, в том числе сохранённую бизнес-ошибку.
func (s *Server) checkout(c *gin.Context) {
	actor := actorFrom(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCheckoutBody))
	if err != nil {
		badRequest(c, "cannot read body")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	key := domain.ScopedIdempotencyKey(actor.UserID, c.GetHeader(idempotency.HeaderKey))
	hash := idempotency.RequestHash(http.MethodPost+" /orders/checkout", body)

	resp, err := s.svc.Idempotency.Do(ctx, key, hash, func(ctx context.Context) (idempotency.Response, error) {
		order, err := s.svc.Checkout.Checkout(ctx, actor.UserID)
		if err != nil {
			if !domain.IsBusiness(err) {
				return idempotency.Response{}, err
			}
			status, errBody := describeError(err)
			payload, _ := json.Marshal(errorResponse{Error: errBody})
			return idempotency.Response{Status: status, Body: payload, Failed: true}, nil
		}
		payload, err := json.Marshal(toOrder(order))
		if err != nil {
			return idempotency.Response{}, err
		}
		return idempotency.Response{Status: http.StatusCreated, Body: payload}, nil
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if resp.Replayed {
		c.Header(HeaderReplayed, "true")
		s.logger.WithFields(log.Fields{
			"user_id":         actor.UserID,
			"idempotency_key": key,
		}).Info("checkout response replayed")
	}
	c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
}

func (s *Server) listOrders(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := s.svc.Orders.List(ctx, actorFrom(c), c.Query("user_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrders(list))
}

func (s *Server) getOrder(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := s.svc.Orders.Get(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}

func (s *Server) orderTimeline(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	events, err := s.svc.Orders.Timeline(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTimeline(events))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req cancelReq
	// тело необязательно
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := s.svc.Orders.Cancel(ctx, actorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}

type statusReq struct {
	Status string `json:"status"`
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := s.svc.Orders.UpdateStatus(ctx, actorFrom(c), c.Param("id"), domain.OrderStatus(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}
