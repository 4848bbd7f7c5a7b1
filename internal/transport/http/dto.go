package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productResponse struct {
	ID          int64           `json:"id"`
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Available   int             `json:"available"`
	Sellable    bool            `json:"sellable"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// adminProductResponse дополнительно показывает складской учёт.
type adminProductResponse struct {
	productResponse
	Provisioned int `json:"provisioned"`
}

func toProduct(p domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Available:   p.Available,
		Sellable:    p.Sellable,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toAdminProduct(p domain.Product) adminProductResponse {
	return adminProductResponse{productResponse: toProduct(p), Provisioned: p.Provisioned}
}

type orderResponse struct {
	domain.Order
	TotalPrice decimal.Decimal `json:"total_price"`
}

func toOrder(o domain.Order) orderResponse {
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	return orderResponse{Order: o, TotalPrice: o.TotalPrice()}
}

func toOrders(list []domain.Order) []orderResponse {
	result := make([]orderResponse, 0, len(list))
	for _, o := range list {
		result = append(result, toOrder(o))
	}
	return result
}

type cartResponse struct {
	domain.Cart
	Total decimal.Decimal `json:"total"`
}

func toCart(c domain.Cart) cartResponse {
	if c.Lines == nil {
		c.Lines = []domain.CartLine{}
	}
	return cartResponse{Cart: c, Total: c.Total()}
}

type timelineEventResponse struct {
	Type     string             `json:"type"`
	Status   domain.OrderStatus `json:"status"`
	ActorID  string             `json:"actor_id,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Occurred time.Time          `json:"occurred_at"`
}

func toTimeline(events []domain.TimelineEvent) []timelineEventResponse {
	result := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		result = append(result, timelineEventResponse{
			Type:     e.Type,
			Status:   e.Status,
			ActorID:  e.ActorID,
			Reason:   e.Reason,
			Occurred: e.Occurred,
		})
	}
	return result
}
