package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox-события.
const (
	OutboxResultSent      = "sent"
	OutboxResultRetry     = "retry"
	OutboxResultFailed    = "failed"
	OutboxResultNoRoute   = "no_route"
	OutboxResultDLQFailed = "dlq_failed"
)

// OutboxMetrics — метрики публикации transactional outbox.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox в переданном registerer.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		published: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_publish_total",
			Help: "Outbox publish attempts by event type and result",
		}, []string{"event_type", "result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
	}
}

// RecordPublish учитывает попытку публикации события.
func (m *OutboxMetrics) RecordPublish(eventType, result string) {
	m.published.WithLabelValues(eventType, result).Inc()
}

// SetBacklog обновляет размер очереди outbox и возраст старейшей записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	m.pending.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestAge.Set(oldestAge.Seconds())
}

// CleanupMetrics — метрики очистки просроченных ключей идемпотентности.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
	backlog     prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики очистки в переданном registerer.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_idempotency_cleanup_last_deleted",
			Help: "Number of records deleted during the last cleanup run",
		}),
		backlog: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_idempotency_cleanup_backlog",
			Help: "1 if the last cleanup run stopped at the batch limit with expired records left",
		}),
	}
}

// RecordRun учитывает завершённый запуск очистки.
func (m *CleanupMetrics) RecordRun(result string, deleted int, truncated bool) {
	m.runs.WithLabelValues(result).Inc()
	if result != "ok" {
		return
	}
	m.deleted.Add(float64(deleted))
	m.lastDeleted.Set(float64(deleted))
	if truncated {
		m.backlog.Set(1)
	} else {
		m.backlog.Set(0)
	}
}
