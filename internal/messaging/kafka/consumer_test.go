package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGroup реализует sarama.ConsumerGroup; Consume по умолчанию ждёт отмены ctx.
type fakeGroup struct {
	consume  func(ctx context.Context) error
	errs     chan error
	closeErr error
	calls    atomic.Int32
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{errs: make(chan error, 1)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.calls.Add(1)
	if g.consume != nil {
		return g.consume(ctx)
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return g.closeErr
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// claimOf возвращает claim, в котором уже лежат msgs и канал закрыт.
func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func restockMessage(offset int64, retryHeader string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic:  TopicStockProvisioned,
		Offset: offset,
		Key:    []byte("grn-17"),
		Value:  []byte(`{"reference":"grn-17","product_id":5,"quantity":3}`),
	}
	if retryHeader != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retryHeader)}}
	}
	return msg
}

// countingHandler падает failures раз подряд с err, затем обрабатывает успешно.
func countingHandler(failures int, err error) (MessageHandler, *int) {
	calls := 0
	return func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		if calls <= failures {
			return err
		}
		return nil
	}, &calls
}

func restockConsumer(handler MessageHandler, dlq *Producer, maxRetries int) *Consumer {
	return newConsumer(nil, ConsumerConfig{
		GroupID:    "storefront-restock-test",
		Topics:     []string{TopicStockProvisioned},
		MaxRetries: maxRetries,
		RetryDelay: -1,
	}, handler, dlq)
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{
		Brokers: []string{"127.0.0.1:1"},
		GroupID: "storefront-restock",
		Topics:  []string{TopicStockProvisioned},
	}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil)
	assert.Error(t, err)
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := newConsumer(nil, ConsumerConfig{Topics: []string{TopicStockProvisioned}}, nil, nil)
	assert.Equal(t, defaultMaxRetries, c.maxRetries)
	assert.Equal(t, defaultRetryDelay, c.retryDelay)
	assert.Equal(t, TopicStockProvisioned+".dlq", c.dlqTopic)

	c = newConsumer(nil, ConsumerConfig{Topics: []string{"a"}, DLQTopic: "restock.dead", RetryDelay: -time.Second}, nil, nil)
	assert.Equal(t, "restock.dead", c.dlqTopic)
	assert.Zero(t, c.retryDelay)

	cfg := consumerGroupConfig()
	assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
	assert.True(t, cfg.Consumer.Return.Errors)
}

func TestConsumer_StartAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := newFakeGroup()
	group.errs <- errors.New("rebalance in progress")
	c := restockConsumer(nil, nil, 1)
	c.group = group

	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool { return group.calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, c.Stop())
}

func TestConsumer_LoopEndsOnClosedGroup(t *testing.T) {
	group := newFakeGroup()
	group.consume = func(context.Context) error { return sarama.ErrClosedConsumerGroup }
	c := restockConsumer(nil, nil, 1)
	c.group = group

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
	assert.Equal(t, int32(1), group.calls.Load())
}

func TestConsumer_StopReportsCloseError(t *testing.T) {
	group := newFakeGroup()
	group.closeErr = errors.New("close failed")
	c := restockConsumer(nil, nil, 1)
	c.group = group

	assert.ErrorContains(t, c.Stop(), "close failed")
}

func TestConsumeClaim_MarksOnlyHandledMessages(t *testing.T) {
	handler := func(_ context.Context, msg *sarama.ConsumerMessage) error {
		if msg.Offset == 11 {
			return errors.New("catalog unavailable")
		}
		return nil
	}
	c := restockConsumer(handler, nil, 1)
	session := &fakeSession{ctx: context.Background()}

	err := c.ConsumeClaim(session, claimOf(restockMessage(10, ""), restockMessage(11, ""), restockMessage(12, "")))
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 12}, session.marked)
}

func TestConsumeClaim_ReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := restockConsumer(nil, nil, 1)
	session := &fakeSession{ctx: ctx}

	done := make(chan error, 1)
	go func() {
		done <- c.ConsumeClaim(session, &fakeClaim{messages: make(chan *sarama.ConsumerMessage)})
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after cancel")
	}
}

func TestConsumer_ProcessRetries(t *testing.T) {
	transient := errors.New("lock timeout")

	tests := []struct {
		name      string
		failures  int
		err       error
		header    string
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", failures: 0, wantCalls: 1},
		{name: "recovers after transient failure", failures: 1, err: transient, wantCalls: 2},
		{name: "gives up after max retries", failures: 10, err: transient, wantCalls: 3, wantErr: true},
		{name: "continues count from retry header", failures: 10, err: transient, header: "1", wantCalls: 2, wantErr: true},
		{name: "ignores malformed retry header", failures: 10, err: transient, header: "many", wantCalls: 3, wantErr: true},
		{name: "permanent error is not retried", failures: 10, err: Permanent(errors.New("bad json")), wantCalls: 1, wantErr: true},
		{name: "exhausted header skips handler", failures: 0, header: "3", wantCalls: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, calls := countingHandler(tt.failures, tt.err)
			c := restockConsumer(handler, nil, 3)

			err := c.process(context.Background(), restockMessage(1, tt.header))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, *calls)
		})
	}
}

func TestConsumer_PermanentErrorSurvivesWithoutDLQ(t *testing.T) {
	handler, _ := countingHandler(1, Permanent(errors.New("unknown product")))
	err := restockConsumer(handler, nil, 5).process(context.Background(), restockMessage(1, ""))
	assert.True(t, IsPermanent(err))
}

func TestConsumer_DeadLetterKeepsOriginalMessage(t *testing.T) {
	failedAt := time.Date(2026, 4, 2, 8, 15, 0, 0, time.UTC)

	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicStockProvisioned+".dlq", msg.Topic)

		key, _ := msg.Key.Encode()
		value, _ := msg.Value.Encode()
		assert.Equal(t, "grn-17", string(key))
		assert.JSONEq(t, `{"reference":"grn-17","product_id":5,"quantity":3}`, string(value))

		assert.Equal(t, map[string]string{
			HeaderOriginalTopic: TopicStockProvisioned,
			HeaderErrorMessage:  "unknown product",
			HeaderFailedAt:      failedAt.Format(time.RFC3339),
			HeaderRetryCount:    "1",
		}, headerMap(msg.Headers))
		return nil
	})

	handler, calls := countingHandler(10, Permanent(errors.New("unknown product")))
	c := restockConsumer(handler, NewProducerFromSync(sync), 3)
	c.now = func() time.Time { return failedAt }

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(restockMessage(7, ""))))

	assert.Equal(t, 1, *calls)
	assert.Equal(t, []int64{7}, session.marked, "message delivered to dlq must be committed")
	require.NoError(t, sync.Close())
}

func TestConsumer_DeadLetterFailureLeavesMessage(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	c := restockConsumer(nil, NewProducerFromSync(sync), 3)
	session := &fakeSession{ctx: context.Background()}

	require.NoError(t, c.ConsumeClaim(session, claimOf(restockMessage(3, "3"))))
	assert.Empty(t, session.marked)
	require.NoError(t, sync.Close())
}

func TestDeliveredAttempts(t *testing.T) {
	assert.Equal(t, 0, deliveredAttempts(restockMessage(0, "")))
	assert.Equal(t, 5, deliveredAttempts(restockMessage(0, "5")))
	assert.Equal(t, 0, deliveredAttempts(restockMessage(0, "-2")))
	assert.Equal(t, 0, deliveredAttempts(restockMessage(0, "bad")))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
