package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

type fakeOutboxRepo struct {
	mu       sync.Mutex
	pending  []domain.OutboxMessage
	stats    domain.OutboxStats
	pullErr  error
	statsErr error
	sentIDs  []string
	failIDs  []string
}

func (f *fakeOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, msg)
	return msg, nil
}

func (f *fakeOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	batch := f.pending[:limit]
	f.pending = f.pending[limit:]
	return batch, nil
}

func (f *fakeOutboxRepo) Stats() (domain.OutboxStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return domain.OutboxStats{}, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeOutboxRepo) MarkSent(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentIDs = append(f.sentIDs, id)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIDs = append(f.failIDs, id)
	return nil
}

func (f *fakeOutboxRepo) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentIDs)
}

// scriptedPublisher проваливает первые failures вызовов, дальше принимает всё.
type scriptedPublisher struct {
	failures  int
	calls     int
	published []domain.OutboxMessage
}

func (p *scriptedPublisher) Publish(event domain.OutboxMessage) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, event)
	return nil
}

func orderCreatedMessage(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "OrderCreated",
		Payload:       []byte(`{"event_type":"order.created","order_id":"` + orderID + `","reference":"ORD00042","warehouse_id":"WH-018","status":"Pending"}`),
	}
}

func stockReservedMessage(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "stock",
		AggregateID:   orderID,
		EventType:     "StockReserved",
		Payload:       []byte(`{"event_type":"stock.reserved","order_id":"` + orderID + `","item_reference":"P000001","amount":3}`),
	}
}

func TestWorker_DrainPublishesAndMarksSent(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{
		orderCreatedMessage("outbox-1", "order-1"),
		stockReservedMessage("outbox-2", "order-1"),
	}}
	publisher := &scriptedPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))
	published, failed := worker.Drain(context.Background())

	assert.Equal(t, 2, published)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"outbox-1", "outbox-2"}, repo.sentIDs)
	assert.Empty(t, repo.failIDs)
	require.Len(t, publisher.published, 2)
	assert.Equal(t, "OrderCreated", publisher.published[0].EventType)
	assert.Equal(t, "StockReserved", publisher.published[1].EventType)
}

func TestWorker_RetryRecoversFromTransientFailure(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("outbox-1", "order-1")}}
	publisher := &scriptedPublisher{failures: 2}

	worker := NewWorker(repo, publisher, WithMaxAttempts(3), WithRetryBaseDelay(0))
	published, failed := worker.Drain(context.Background())

	assert.Equal(t, 1, published)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 3, publisher.calls)
	assert.Equal(t, []string{"outbox-1"}, repo.sentIDs)
}

func TestWorker_ExhaustedRetriesDivertToDLQ(t *testing.T) {
	original := stockReservedMessage("outbox-7", "order-9")
	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{original}}
	publisher := &scriptedPublisher{failures: 100}
	dlq := &scriptedPublisher{}

	worker := NewWorker(repo, publisher,
		WithMaxAttempts(2),
		WithRetryBaseDelay(0),
		WithDLQPublisher(dlq),
	)
	published, failed := worker.Drain(context.Background())

	assert.Equal(t, 0, published)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, publisher.calls)
	assert.Equal(t, []string{"outbox-7"}, repo.failIDs)

	require.Len(t, dlq.published, 1)
	dlqMessage := dlq.published[0]
	assert.Equal(t, "outbox-7", dlqMessage.ID)
	assert.Equal(t, "stock", dlqMessage.AggregateType)

	// DLQ-обёртка несёт контекст ошибки и исходное событие без изменений.
	var wrapper struct {
		OutboxID     string          `json:"outbox_id"`
		EventType    string          `json:"event_type"`
		Payload      json.RawMessage `json:"payload"`
		PublishError string          `json:"publish_error"`
	}
	require.NoError(t, json.Unmarshal(dlqMessage.Payload, &wrapper))
	assert.Equal(t, "outbox-7", wrapper.OutboxID)
	assert.Equal(t, "StockReserved", wrapper.EventType)
	assert.Contains(t, wrapper.PublishError, "broker unavailable")
	assert.JSONEq(t, string(original.Payload), string(wrapper.Payload))
}

func TestWorker_FailureWithoutDLQStillMarksFailed(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("outbox-1", "order-1")}}
	publisher := &scriptedPublisher{failures: 100}

	worker := NewWorker(repo, publisher, WithMaxAttempts(1), WithRetryBaseDelay(0))
	published, failed := worker.Drain(context.Background())

	assert.Equal(t, 0, published)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"outbox-1"}, repo.failIDs)
}

func TestWorker_DrainToleratesRepoErrors(t *testing.T) {
	repo := &fakeOutboxRepo{
		pullErr:  errors.New("storage down"),
		statsErr: errors.New("storage down"),
	}
	worker := NewWorker(repo, &scriptedPublisher{}, WithRetryBaseDelay(0))

	published, failed := worker.Drain(context.Background())
	assert.Equal(t, 0, published)
	assert.Equal(t, 0, failed)
}

func TestWorker_DrainStopsOnContextCancel(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{
		orderCreatedMessage("outbox-1", "order-1"),
		orderCreatedMessage("outbox-2", "order-2"),
	}}
	publisher := &scriptedPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))
	published, failed := worker.Drain(ctx)

	assert.Equal(t, 0, published)
	assert.Equal(t, 0, failed)
	assert.Empty(t, publisher.published)
}

func TestWorker_RunDrainsImmediatelyAndStops(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("outbox-1", "order-1")}}
	publisher := &scriptedPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(repo, publisher,
		WithPollInterval(time.Hour),
		WithRetryBaseDelay(0),
		WithLogger(log.WithField("test", "outbox-run")),
	)

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return repo.sentCount() == 1
	}, time.Second, 5*time.Millisecond, "первый цикл должен выполниться без ожидания тикера")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestWorker_RunDisabledWithoutDependencies(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewWorker(nil, nil).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without dependencies must return immediately")
	}
}

func TestWorker_Backoff(t *testing.T) {
	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))

	assert.Equal(t, 10*time.Millisecond, worker.backoff(1))
	assert.Equal(t, 20*time.Millisecond, worker.backoff(2))
	assert.Equal(t, 40*time.Millisecond, worker.backoff(3))

	zero := NewWorker(nil, nil, WithRetryBaseDelay(0))
	assert.Equal(t, time.Duration(0), zero.backoff(5))
}

func TestNewWorker_IgnoresInvalidOptions(t *testing.T) {
	worker := NewWorker(nil, nil,
		WithPollInterval(0),
		WithBatchSize(-1),
		WithMaxAttempts(0),
		WithLogger(nil),
	)

	assert.Equal(t, defaultPollInterval, worker.pollInterval)
	assert.Equal(t, defaultBatchSize, worker.batchSize)
	assert.Equal(t, defaultMaxAttempts, worker.maxAttempts)
	assert.NotNil(t, worker.logger)
}
