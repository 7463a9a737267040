package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/outbox"
)

const workerStopTimeout = 5 * time.Second

// startOutboxWorker запускает публикацию outbox в Kafka: order.created уходит в
// OrderEventsTopic, события без маршрута сразу попадают в DLQ.
// Без producer события копятся в outbox до следующего запуска с Kafka.
func startOutboxWorker(ctx context.Context, cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	if producer == nil || repo == nil {
		logger.Warn("kafka is not configured, outbox messages stay pending")
		return nil, nil
	}

	worker := outbox.NewWorker(
		repo,
		nil,
		outbox.WithRoute(string(kafka.EventTypeOrderCreated), kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic)),
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	return runWorker(ctx, worker.Run)
}

// startIdempotencyCleanup запускает удаление просроченных ключей идемпотентности.
func startIdempotencyCleanup(ctx context.Context, cfg Config, repo domain.IdempotencyRepository, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	if repo == nil {
		return nil, nil
	}

	worker := idempotency.NewCleanupWorker(
		repo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMaxBatches(cfg.IdempotencyCleanupMaxBatches),
	)
	return runWorker(ctx, worker.Run)
}

func runWorker(ctx context.Context, run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return cancel, done
}

// shutdownWorker останавливает воркер и ждёт его завершения не дольше workerStopTimeout.
func shutdownWorker(name string, cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}

	select {
	case <-done:
		logger.WithField("worker", name).Info("worker stopped")
	case <-time.After(workerStopTimeout):
		logger.WithField("worker", name).Warn("worker stop timed out")
	}
}
