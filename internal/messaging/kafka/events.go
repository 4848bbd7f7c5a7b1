package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Topics по умолчанию.
const (
	TopicOrderEvents      = "storefront.order.events"
	TopicDeadLetterQueue  = "storefront.order.events.dlq"
	TopicStockProvisioned = "stock.provisioned"
)

// Kafka headers
const (
	HeaderEventID       = "x-event-id"
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// StockProvisioned — поставка товара на склад от внешней системы учёта.
// Reference уникален для поставки и служит ключом дедупликации.
type StockProvisioned struct {
	Reference  string    `json:"reference"`
	ProductID  int64     `json:"product_id"`
	Quantity   int       `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// Validate проверяет обязательные поля события.
func (e StockProvisioned) Validate() error {
	switch {
	case strings.TrimSpace(e.Reference) == "":
		return fmt.Errorf("stock provisioned: reference is required")
	case e.ProductID <= 0:
		return fmt.Errorf("stock provisioned: product_id must be positive")
	case e.Quantity <= 0:
		return fmt.Errorf("stock provisioned: quantity must be positive")
	}
	return nil
}

// ParseStockProvisioned парсит StockProvisioned из сообщения
func ParseStockProvisioned(message *sarama.ConsumerMessage) (StockProvisioned, error) {
	var event StockProvisioned
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return StockProvisioned{}, fmt.Errorf("failed to unmarshal stock provisioned event: %w", err)
	}
	event.Reference = strings.TrimSpace(event.Reference)
	return event, nil
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
