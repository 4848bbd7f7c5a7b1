package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrInvalidOutboxPayload возвращается, если payload события не является JSON.
var ErrInvalidOutboxPayload = errors.New("outbox payload is not valid json")

// OutboxEnvelope описывает формат, в котором outbox-событие уходит в topic.
// Payload встраивается как есть, без повторного кодирования.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxTopicPublisher публикует outbox-сообщения в один topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher для topic (пустой означает TopicOrderEvents).
// Ключом сообщения служит ID агрегата: события одного заказа попадают в одну partition.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialized
	}

	value, err := encodeEnvelope(event, p.now())
	if err != nil {
		return err
	}

	return p.producer.Publish(p.topic, messageKey(event), value, map[string]string{
		HeaderEventID:       event.ID,
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	})
}

func encodeEnvelope(event domain.OutboxMessage, publishedAt time.Time) ([]byte, error) {
	if len(event.Payload) == 0 || !json.Valid(event.Payload) {
		return nil, fmt.Errorf("outbox message %s: %w", event.ID, ErrInvalidOutboxPayload)
	}

	value, err := json.Marshal(OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   publishedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode outbox envelope %s: %w", event.ID, err)
	}
	return value, nil
}

func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
