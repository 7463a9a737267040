// Package idempotency обслуживает хранилище ключей идемпотентности CreateOrder.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

const (
	defaultCleanupInterval   = time.Minute
	defaultCleanupBatchSize  = 500
	defaultCleanupMaxBatches = 20
)

// CleanupResult — итог одного прохода очистки.
type CleanupResult struct {
	Deleted int
	Batches int
	// Truncated: проход остановился на лимите батчей, просроченные ключи ещё остались.
	Truncated bool
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одного DELETE.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxBatches ограничивает число DELETE за проход, чтобы большой хвост
// просроченных ключей не держал базу; остаток дочищает следующий проход.
func WithMaxBatches(maxBatches int) CleanupOption {
	return func(w *CleanupWorker) {
		if maxBatches > 0 {
			w.maxBatches = maxBatches
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithMetrics задаёт метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// CleanupWorker периодически удаляет ключи идемпотентности с истёкшим TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup"),
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultCleanupMaxBatches,
		now:        time.Now,
	}
	for _, option := range options {
		option(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewCleanupMetrics(nil)
	}
	return w
}

// Run выполняет проход сразу и затем по таймеру, до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	result, err := w.DeleteExpired(ctx, w.now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordRun("error", result.Deleted, false)
		w.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordRun("ok", result.Deleted, result.Truncated)
	if result.Deleted == 0 {
		return
	}
	entry := w.logger.WithFields(log.Fields{
		"deleted": result.Deleted,
		"batches": result.Batches,
	})
	if result.Truncated {
		entry.Warn("idempotency cleanup stopped at batch limit")
		return
	}
	entry.Info("idempotency cleanup completed")
}

// DeleteExpired удаляет ключи с ttl <= before порциями batchSize, не больше maxBatches порций.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (CleanupResult, error) {
	var result CleanupResult
	for result.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += deleted

		if deleted < w.batchSize {
			return result, nil
		}
	}
	result.Truncated = true
	return result, nil
}
