package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики сценария оформления заказа.
type OrderMetrics struct {
	created  prometheus.Counter
	rejected *prometheus.CounterVec

	duration     prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// Сколько единиц товара списано со склада созданными заказами.
	unitsDecremented prometheus.Counter

	inFlight prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		created: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		rejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of order creation attempts rejected, by reason",
		}, []string{"reason"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orders_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_step_duration_seconds",
			Help:    "Duration of individual order creation steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		unitsDecremented: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_stock_units_decremented_total",
			Help: "Total number of stock units decremented by created orders",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_in_flight",
			Help: "Number of order creation requests currently being processed",
		}),
	}
}

// RecordStarted отмечает начало обработки запроса.
func (m *OrderMetrics) RecordStarted() {
	m.inFlight.Inc()
}

// RecordFinished отмечает завершение обработки и её длительность.
func (m *OrderMetrics) RecordFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.duration.Observe(duration.Seconds())
}

// RecordCreated увеличивает счётчик созданных заказов и списанных единиц.
func (m *OrderMetrics) RecordCreated(units int64) {
	m.created.Inc()
	if units > 0 {
		m.unitsDecremented.Add(float64(units))
	}
}

// RecordRejected увеличивает счётчик отказов с указанной причиной.
func (m *OrderMetrics) RecordRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// RecordStepDuration записывает время выполнения шага.
func (m *OrderMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}
