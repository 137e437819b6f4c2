// Package outbox доставляет события склада из transactional outbox в брокер.
// Репозитории пишут события в одной транзакции с изменением заказа; воркер
// затем выгребает pending-записи и публикует их, так что событие не теряется
// даже при падении Kafka в момент записи заказа.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wms_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wms_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	backlogOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wms_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// Worker выгребает pending-события и публикует их с ретраями.
// После исчерпания попыток событие помечается failed и уходит в DLQ,
// чтобы dlq-reprocess мог вернуть его вручную.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт паблишер для событий, исчерпавших ретраи.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер выгребаемого батча.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт базу экспоненциального backoff между попытками.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay >= 0 {
			w.baseDelay = delay
		}
	}
}

// NewWorker создаёт воркер с настройками по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx. Первый цикл выполняется сразу,
// чтобы накопленный при простое бэклог не ждал целый pollInterval.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain выполняет один цикл: выгребает батч и публикует каждое событие.
// Возвращает число успешно опубликованных и окончательно проваленных событий.
func (w *Worker) Drain(ctx context.Context) (published, failed int) {
	if ctx.Err() != nil {
		return 0, 0
	}

	w.observeBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0, 0
	}

	for _, message := range batch {
		if ctx.Err() != nil {
			break
		}
		if w.dispatch(ctx, message) {
			published++
		} else {
			failed++
		}
	}

	if len(batch) > 0 {
		w.observeBacklog()
	}
	return published, failed
}

// dispatch публикует одно событие; false означает, что событие ушло
// в failed-состояние (и в DLQ, если DLQ-паблишер настроен).
func (w *Worker) dispatch(ctx context.Context, message domain.OutboxMessage) bool {
	err := w.publishWithRetry(ctx, message)
	if err == nil {
		if markErr := w.repo.MarkSent(message.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("outbox_id", message.ID).Warn("failed to mark outbox as sent")
		}
		return true
	}

	w.logger.WithError(err).WithFields(log.Fields{
		"outbox_id":  message.ID,
		"event_type": message.EventType,
	}).Error("outbox publish failed after retries")
	publishAttempts.WithLabelValues("failed").Inc()

	if dlqErr := w.divertToDLQ(message, err); dlqErr != nil {
		w.logger.WithError(dlqErr).WithField("outbox_id", message.ID).Warn("failed to publish to DLQ")
		publishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if markErr := w.repo.MarkFailed(message.ID); markErr != nil {
		w.logger.WithError(markErr).WithField("outbox_id", message.ID).Warn("failed to mark outbox as failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, message domain.OutboxMessage) error {
	var lastErr error

	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff(attempt)):
			}
		}

		if err := w.publisher.Publish(message); err != nil {
			lastErr = err
			publishAttempts.WithLabelValues("retry_error").Inc()
			continue
		}

		publishAttempts.WithLabelValues("sent").Inc()
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// backoff возвращает задержку перед attempt-й повторной попыткой:
// base, 2*base, 4*base и так далее.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempt; i++ {
		if delay > time.Minute {
			return time.Minute
		}
		delay *= 2
	}
	return delay
}

// divertToDLQ заворачивает событие в DLQ-обёртку с контекстом ошибки.
// Исходный payload сохраняется как есть: dlq-reprocess восстановит из него
// publisher-конверт и вернёт событие в рабочий топик.
func (w *Worker) divertToDLQ(message domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        message.ID,
		"aggregate_type":   message.AggregateType,
		"aggregate_id":     message.AggregateID,
		"event_type":       message.EventType,
		"payload":          json.RawMessage(message.Payload),
		"publish_error":    publishErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqMessage := domain.OutboxMessage{
		ID:            message.ID,
		AggregateType: message.AggregateType,
		AggregateID:   message.AggregateID,
		EventType:     message.EventType,
		Payload:       payload,
	}
	if err := w.dlqPublisher.Publish(dlqMessage); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	backlogSize.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		backlogOldestAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	backlogOldestAge.Set(age)
}
