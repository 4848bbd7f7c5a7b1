package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

// recordingPublisher отдаёт ошибки из script по очереди, затем fallback.
type recordingPublisher struct {
	mu        sync.Mutex
	script    []error
	fallback  error
	attempts  int
	delivered []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	err := p.fallback
	if len(p.script) > 0 {
		err, p.script = p.script[0], p.script[1:]
	}
	if err == nil {
		p.delivered = append(p.delivered, msg)
	}
	return err
}

func (p *recordingPublisher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *recordingPublisher) deliveredIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.delivered))
	for _, m := range p.delivered {
		ids = append(ids, m.ID)
	}
	return ids
}

func orderEvent(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-" + id,
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":"order-` + id + `","status":"new"}`),
	}
}

func seededOutbox(t *testing.T, ids ...string) interface {
	domain.OutboxRepository
	AllPending() []domain.OutboxMessage
} {
	t.Helper()
	repo := memory.NewOutboxRepository()
	for _, id := range ids {
		_, err := repo.Enqueue(context.Background(), orderEvent(id))
		require.NoError(t, err)
	}
	return repo
}

func TestNewWorker_IgnoresInvalidOptions(t *testing.T) {
	w := NewWorker(nil, nil,
		WithPollInterval(0),
		WithBatchSize(-1),
		WithMaxAttempts(0),
		WithRetryBaseDelay(-time.Second),
		WithLogger(nil),
	)
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.Equal(t, defaultMaxAttempts, w.maxAttempts)
	assert.Zero(t, w.retryBaseDelay)
	assert.NotNil(t, w.logger)
}

func TestWorker_PublishesBacklogOnce(t *testing.T) {
	t.Parallel()

	repo := seededOutbox(t, "e1", "e2", "e3")
	pub := &recordingPublisher{}
	w := NewWorker(repo, pub, WithRetryBaseDelay(0))

	report := w.ProcessOnce(context.Background())
	assert.Equal(t, Report{Sent: 3}, report)
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, pub.deliveredIDs())
	assert.Empty(t, repo.AllPending())

	assert.Equal(t, Report{}, w.ProcessOnce(context.Background()), "sent messages must not be republished")
}

func TestWorker_RespectsBatchSize(t *testing.T) {
	t.Parallel()

	repo := seededOutbox(t, "e1", "e2", "e3")
	w := NewWorker(repo, &recordingPublisher{}, WithBatchSize(2), WithRetryBaseDelay(0))

	assert.Equal(t, 2, w.ProcessOnce(context.Background()).Sent)
	assert.Len(t, repo.AllPending(), 1)
	assert.Equal(t, 1, w.ProcessOnce(context.Background()).Sent)
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	repo := seededOutbox(t, "e1")
	pub := &recordingPublisher{script: []error{errors.New("leader not available"), errors.New("timeout")}}
	w := NewWorker(repo, pub, WithMaxAttempts(3), WithRetryBaseDelay(time.Millisecond))

	assert.Equal(t, Report{Sent: 1}, w.ProcessOnce(context.Background()))
	assert.Equal(t, 3, pub.attemptCount())
}

func TestWorker_DeadLettersExhaustedMessage(t *testing.T) {
	t.Parallel()

	failedAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	repo := seededOutbox(t, "e1")
	pub := &recordingPublisher{fallback: errors.New("broker down")}
	dlq := &recordingPublisher{}

	w := NewWorker(repo, pub, WithDLQPublisher(dlq), WithMaxAttempts(2), WithRetryBaseDelay(0))
	w.now = func() time.Time { return failedAt }

	assert.Equal(t, Report{Failed: 1}, w.ProcessOnce(context.Background()))
	assert.Equal(t, 2, pub.attemptCount())
	assert.Empty(t, repo.AllPending(), "failed message must leave the backlog")

	require.Len(t, dlq.delivered, 1)
	envelope := dlq.delivered[0]
	assert.Equal(t, "e1", envelope.ID)
	assert.Equal(t, "order-e1", envelope.AggregateID)

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(envelope.Payload, &letter))
	assert.Equal(t, "e1", letter.OutboxID)
	assert.Contains(t, letter.PublishError, "broker down")
	assert.True(t, failedAt.Equal(letter.DLQPublishedAt))
	assert.JSONEq(t, `{"order_id":"order-e1","status":"new"}`, string(letter.Message().Payload))
}

func TestWorker_FailedDLQStillMarksFailed(t *testing.T) {
	t.Parallel()

	repo := seededOutbox(t, "e1")
	w := NewWorker(repo,
		&recordingPublisher{fallback: errors.New("broker down")},
		WithDLQPublisher(&recordingPublisher{fallback: errors.New("dlq down")}),
		WithMaxAttempts(1),
	)

	assert.Equal(t, Report{Failed: 1}, w.ProcessOnce(context.Background()))
	assert.Empty(t, repo.AllPending())
}

func TestWorker_CanceledContextKeepsMessagePending(t *testing.T) {
	t.Parallel()

	repo := seededOutbox(t, "e1")
	ctx, cancel := context.WithCancel(context.Background())

	pub := &recordingPublisher{fallback: errors.New("broker down")}
	w := NewWorker(repo, pub, WithMaxAttempts(5), WithRetryBaseDelay(time.Hour))

	done := make(chan Report, 1)
	go func() { done <- w.ProcessOnce(ctx) }()

	require.Eventually(t, func() bool { return pub.attemptCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case report := <-done:
		assert.Equal(t, Report{}, report)
	case <-time.After(time.Second):
		t.Fatal("ProcessOnce did not return after cancel")
	}
	assert.Len(t, repo.AllPending(), 1)
	assert.Equal(t, Report{}, w.ProcessOnce(ctx))
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := seededOutbox(t)
	w := NewWorker(repo, &recordingPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	_, err := repo.(domain.OutboxWriter).Enqueue(context.Background(), orderEvent("late"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(repo.AllPending()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_RunWithoutPublisherReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(memory.NewOutboxRepository(), nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker must return immediately")
	}
}
