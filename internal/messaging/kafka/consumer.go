package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибка, обёрнутая в Permanent, не повторяется.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку обработки как неустранимую: сообщение сразу уходит в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

// ConsumerConfig задаёт параметры consumer group.
// Пустой DLQTopic означает "<первый topic>.dlq".
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	DLQTopic   string
	MaxRetries int
	RetryDelay time.Duration
}

// Consumer читает topics в составе consumer group. Сообщение, которое не удалось
// обработать за MaxRetries попыток, пересылается в DLQ и коммитится.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration

	logger *log.Entry
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewConsumer подключается к brokers. dlq может быть nil, тогда сообщение
// после исчерпания попыток остаётся некоммиченным.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq *Producer) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerGroupConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler, dlq), nil
}

func consumerGroupConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq *Producer) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		dlq:        dlq,
		dlqTopic:   cfg.DLQTopic,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     log.WithFields(log.Fields{"component": "kafka-consumer", "group": cfg.GroupID}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	switch {
	case c.retryDelay < 0:
		c.retryDelay = 0
	case c.retryDelay == 0:
		c.retryDelay = defaultRetryDelay
	}
	if c.dlqTopic == "" && len(c.topics) > 0 {
		c.dlqTopic = c.topics[0] + ".dlq"
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go c.consumeLoop(ctx)
	go c.logGroupErrors()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// consumeLoop перезапускает Consume после каждого rebalance, пока жив ctx и группа.
func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, c.topics, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err != nil {
			c.logger.WithError(err).Error("consume session ended with error")
		}
	}
}

func (c *Consumer) logGroupErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.logger.WithError(err).Error("consumer group error")
	}
}

// Stop закрывает группу и ждёт завершения фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim коммитит сообщение, только если оно обработано или доставлено в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(ctx, message); err != nil {
				c.logger.WithError(err).WithFields(messageFields(message)).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// process обрабатывает сообщение с повторами. Счёт попыток продолжается
// с x-retry-count, если сообщение уже приходило из DLQ.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := deliveredAttempts(message)
	if attempts >= c.maxRetries {
		return c.deadLetter(message, fmt.Errorf("retry limit %d reached before processing", c.maxRetries), attempts)
	}

	for {
		err := c.handler(ctx, message)
		if err == nil {
			return nil
		}
		attempts++
		if IsPermanent(err) || attempts >= c.maxRetries {
			return c.deadLetter(message, err, attempts)
		}

		c.logger.WithError(err).WithFields(messageFields(message)).WithField("attempt", attempts).Warn("retrying message")
		if err := sleepContext(ctx, c.retryDelay); err != nil {
			return err
		}
	}
}

// deadLetter пересылает исходные key и value в DLQ, причина уходит в headers.
// Без DLQ producer'а возвращается cause, и сообщение не коммитится.
func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	if c.dlq == nil {
		return cause
	}

	err := c.dlq.Publish(c.dlqTopic, string(message.Key), message.Value, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      c.now().Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
	if err != nil {
		return fmt.Errorf("publish to dlq %s: %w", c.dlqTopic, err)
	}

	c.logger.WithError(cause).WithFields(messageFields(message)).WithField("dlq_topic", c.dlqTopic).Warn("message moved to dlq")
	return nil
}

func deliveredAttempts(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message.Headers, HeaderRetryCount))
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
