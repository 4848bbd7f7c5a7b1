package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	restockScope     = "restock"
	restockApplied   = 200
	restockRejected  = 422
	restockSystemUID = "system:restock-consumer"
)

var restockEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_restock_events_total",
	Help: "Consumed stock.provisioned events grouped by result.",
}, []string{"result"})

// Restocker принимает поставку товара (реализуется catalog.Service).
type Restocker interface {
	Restock(ctx context.Context, actor domain.Actor, id int64, qty int) (domain.Product, error)
}

type restockResult struct {
	ProductID int64  `json:"product_id"`
	Available int    `json:"available,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewRestockHandler обрабатывает события stock.provisioned.
// Повторная доставка с тем же reference не увеличивает остаток второй раз.
func NewRestockHandler(restocker Restocker, guard *idempotency.Guard, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "restock-consumer")
	}
	actor := domain.Actor{UserID: restockSystemUID, Admin: true}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseStockProvisioned(message)
		if err != nil {
			restockEvents.WithLabelValues("invalid").Inc()
			return Permanent(err)
		}
		if err := event.Validate(); err != nil {
			restockEvents.WithLabelValues("invalid").Inc()
			return Permanent(err)
		}

		entry := logger.WithFields(log.Fields{
			"reference":  event.Reference,
			"product_id": event.ProductID,
			"qty":        event.Quantity,
		})

		key := domain.ScopedIdempotencyKey(restockScope, event.Reference)
		hash := idempotency.RequestHash(TopicStockProvisioned, message.Value)
		resp, err := guard.Do(ctx, key, hash, func(ctx context.Context) (idempotency.Response, error) {
			product, err := restocker.Restock(ctx, actor, event.ProductID, event.Quantity)
			if err != nil {
				if domain.IsRetryable(err) {
					return idempotency.Response{}, err
				}
				body, _ := json.Marshal(restockResult{ProductID: event.ProductID, Error: err.Error()})
				return idempotency.Response{Status: restockRejected, Body: body, Failed: true}, nil
			}
			body, _ := json.Marshal(restockResult{ProductID: product.ID, Available: product.Available})
			return idempotency.Response{Status: restockApplied, Body: body}, nil
		})

		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			restockEvents.WithLabelValues("invalid").Inc()
			return Permanent(fmt.Errorf("reference %q reused with different payload: %w", event.Reference, err))
		case err != nil:
			restockEvents.WithLabelValues("failed").Inc()
			return err
		case resp.Replayed:
			restockEvents.WithLabelValues("duplicate").Inc()
			entry.Info("duplicate stock provisioned event skipped")
			return nil
		case resp.Failed:
			restockEvents.WithLabelValues("rejected").Inc()
			var result restockResult
			_ = json.Unmarshal(resp.Body, &result)
			return Permanent(fmt.Errorf("restock rejected: %s", result.Error))
		}

		restockEvents.WithLabelValues("applied").Inc()
		entry.Info("stock provisioned from event")
		return nil
	}
}
