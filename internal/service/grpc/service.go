// Package grpcsvc реализует gRPC API storefront.v1.StorefrontService поверх сервисов заказов.
package grpcsvc

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	// ReplayedHeader — metadata ответа, если он взят из хранилища идемпотентности.
	ReplayedHeader = "idempotent-replayed"
)

// StorefrontService реализует StorefrontServiceServer.
type StorefrontService struct {
	checkout *checkout.Coordinator
	orders   *orders.Service
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewStorefrontService конструирует сервис с зависимостями. guard может быть nil.
func NewStorefrontService(coordinator *checkout.Coordinator, orderSvc *orders.Service, guard *idempotency.Guard, logger *log.Entry) *StorefrontService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc")
	}
	return &StorefrontService{
		checkout: coordinator,
		orders:   orderSvc,
		guard:    guard,
		logger:   logger,
	}
}

// Checkout оформляет заказ из корзины вызывающего пользователя.
// Metadata idempotency-key делает вызов повторяемым.
func (s *StorefrontService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	key := domain.ScopedIdempotencyKey(actor.UserID, firstMetadata(ctx, idempotencyKeyHeader))
	hash := idempotency.RequestHash(MethodCheckout, body)

	resp, err := s.guard.Do(ctx, key, hash, func(ctx context.Context) (idempotency.Response, error) {
		order, err := s.checkout.Checkout(ctx, actor.UserID)
		if err != nil {
			if !domain.IsBusiness(err) {
				return idempotency.Response{}, err
			}
			st := status.Convert(toStatus(err))
			return idempotency.Response{Status: int(st.Code()), Body: []byte(st.Message()), Failed: true}, nil
		}
		payload, err := json.Marshal(CheckoutResponse{Order: toOrder(order)})
		if err != nil {
			return idempotency.Response{}, fmt.Errorf("encode checkout response: %w", err)
		}
		return idempotency.Response{Status: int(codes.OK), Body: payload}, nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	if resp.Replayed {
		if err := grpc.SetHeader(ctx, metadata.Pairs(ReplayedHeader, "true")); err != nil {
			s.logger.WithError(err).Debug("failed to set replay header")
		}
		s.logger.WithFields(log.Fields{
			"user_id":         actor.UserID,
			"idempotency_key": key,
		}).Info("checkout response replayed")
	}
	if resp.Failed {
		return nil, decodeStoredFailure(resp)
	}

	out := new(CheckoutResponse)
	if err := json.Unmarshal(resp.Body, out); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Error("failed to decode stored checkout response")
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// GetOrder возвращает заказ вместе с историей.
func (s *StorefrontService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.Get(ctx, actor, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	events, err := s.orders.Timeline(ctx, actor, req.OrderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("failed to list timeline events")
	}
	return &GetOrderResponse{Order: toOrder(order), Timeline: toTimeline(events)}, nil
}

func (s *StorefrontService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be non-negative")
	}

	list, err := s.orders.List(ctx, actor, req.UserID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	result := make([]Order, 0, len(list))
	for _, order := range list {
		result = append(result, toOrder(order))
	}
	return &ListOrdersResponse{Orders: result}, nil
}

func (s *StorefrontService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.Cancel(ctx, actor, req.OrderID, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{Order: toOrder(order)}, nil
}

func (s *StorefrontService) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.UpdateStatus(ctx, actor, req.OrderID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, toStatus(err)
	}
	return &UpdateOrderStatusResponse{Order: toOrder(order)}, nil
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

var _ StorefrontServiceServer = (*StorefrontService)(nil)
