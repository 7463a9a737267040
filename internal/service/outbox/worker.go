// Package outbox доставляет события из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// ErrNoRoute: для типа события не настроен publisher. Такие события сразу уходят в DLQ.
var ErrNoRoute = errors.New("no publisher for outbox event type")

// BatchResult — итог одного прохода по outbox.
type BatchResult struct {
	Sent   int
	Failed int
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRoute направляет события типа eventType в publisher.
func WithRoute(eventType string, publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		if publisher != nil {
			w.routes[eventType] = publisher
		}
	}
}

// WithDLQPublisher задаёт publisher для событий, которые не удалось доставить.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации перед DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.retry.attempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт задержку перед второй попыткой; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay < 0 {
			delay = 0
		}
		w.retry.base = delay
	}
}

// WithRetryMaxDelay ограничивает задержку между попытками.
func WithRetryMaxDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay > 0 {
			w.retry.max = delay
		}
	}
}

// WithMetrics задаёт метрики воркера.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

// delay возвращает паузу после неудачной попытки attempt (нумерация с 1).
func (p retryPolicy) delay(attempt int) time.Duration {
	if p.base <= 0 || attempt < 1 {
		return 0
	}
	d := p.base
	for i := 1; i < attempt; i++ {
		if d >= p.max/2 {
			return p.max
		}
		d *= 2
	}
	if d > p.max {
		return p.max
	}
	return d
}

// Worker публикует pending-сообщения outbox. Publisher выбирается по типу события.
type Worker struct {
	repo     domain.OutboxRepository
	routes   map[string]domain.OutboxPublisher
	fallback domain.OutboxPublisher
	dlq      domain.OutboxPublisher

	retry        retryPolicy
	pollInterval time.Duration
	batchSize    int

	logger  *log.Entry
	metrics *metrics.OutboxMetrics
	now     func() time.Time
}

// NewWorker создаёт outbox worker. fallback получает события без явного маршрута
// и может быть nil, если все типы событий заданы через WithRoute.
func NewWorker(repo domain.OutboxRepository, fallback domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:     repo,
		routes:   make(map[string]domain.OutboxPublisher),
		fallback: fallback,
		retry: retryPolicy{
			attempts: defaultMaxAttempts,
			base:     defaultRetryBaseDelay,
			max:      defaultRetryMaxDelay,
		},
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		logger:       log.WithField("component", "outbox-worker"),
		now:          time.Now,
	}
	for _, option := range options {
		option(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewOutboxMetrics(nil)
	}
	if w.retry.max < w.retry.base {
		w.retry.max = w.retry.base
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || (w.fallback == nil && len(w.routes) == 0) {
		w.logger.Warn("outbox worker is disabled: repo or publishers are not configured")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один проход: публикует до batchSize событий.
// При отмене ctx недоставленные события остаются pending.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}

	w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	for _, event := range events {
		attempts, err := w.deliver(ctx, event)
		if err == nil {
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", event.ID).Warn("failed to mark outbox as sent")
			}
			result.Sent++
			continue
		}
		if ctx.Err() != nil {
			return result
		}
		w.fail(ctx, event, attempts, err)
		result.Failed++
	}

	if len(events) > 0 {
		w.refreshBacklog(ctx)
		w.logger.WithFields(log.Fields{
			"sent":   result.Sent,
			"failed": result.Failed,
		}).Debug("outbox batch processed")
	}
	return result
}

func (w *Worker) publisherFor(eventType string) (domain.OutboxPublisher, bool) {
	if publisher, ok := w.routes[eventType]; ok {
		return publisher, true
	}
	return w.fallback, w.fallback != nil
}

// deliver публикует событие с повторами и возвращает число сделанных попыток.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (int, error) {
	publisher, ok := w.publisherFor(event.EventType)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNoRoute, event.EventType)
	}

	var lastErr error
	for attempt := 1; attempt <= w.retry.attempts; attempt++ {
		err := publisher.Publish(ctx, event)
		if err == nil {
			w.metrics.RecordPublish(event.EventType, metrics.OutboxResultSent)
			return attempt, nil
		}
		lastErr = err
		w.metrics.RecordPublish(event.EventType, metrics.OutboxResultRetry)

		if attempt == w.retry.attempts {
			break
		}
		if delay := w.retry.delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return w.retry.attempts, fmt.Errorf("publish failed after %d attempts: %w", w.retry.attempts, lastErr)
}

func (w *Worker) fail(ctx context.Context, event domain.OutboxMessage, attempts int, cause error) {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"attempts":   attempts,
	})
	logger.WithError(cause).Error("outbox event is not delivered")

	result := metrics.OutboxResultFailed
	if errors.Is(cause, ErrNoRoute) {
		result = metrics.OutboxResultNoRoute
	}
	w.metrics.RecordPublish(event.EventType, result)

	if err := w.publishDeadLetter(ctx, event, attempts, cause); err != nil {
		logger.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(event.EventType, metrics.OutboxResultDLQFailed)
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox as failed")
	}
}

// deadLetter — тело сообщения в DLQ.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	Error         string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

func (w *Worker) publishDeadLetter(ctx context.Context, event domain.OutboxMessage, attempts int, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(deadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		Attempts:      attempts,
		Error:         cause.Error(),
		FailedAt:      w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := event
	dead.Payload = body
	if err := w.dlq.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}
