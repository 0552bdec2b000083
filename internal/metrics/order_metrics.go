package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики операций с заказами.
// Методы безопасно вызывать на nil-получателе.
type OrderMetrics struct {
	ordersCreated  prometheus.Counter
	createFailures *prometheus.CounterVec

	statusChanges *prometheus.CounterVec
	statusNoops   prometheus.Counter

	operationDuration *prometheus.HistogramVec
	catalogDuration   *prometheus.HistogramVec
	enrichmentMisses  prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в глобальном реестре.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_orders_created_total",
			Help: "Total number of orders created",
		})),
		createFailures: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_create_failures_total",
			Help: "Total number of failed order creations by error kind",
		}, []string{"kind"})),
		statusChanges: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_status_changes_total",
			Help: "Total number of persisted order status transitions",
		}, []string{"from", "to"})),
		statusNoops: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_order_status_noop_total",
			Help: "Total number of status change requests that matched the current status",
		})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oms_order_operation_duration_seconds",
			Help:    "Duration of order service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"})),
		catalogDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oms_catalog_request_duration_seconds",
			Help:    "Duration of product catalog validation calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"})),
		enrichmentMisses: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_order_enrichment_misses_total",
			Help: "Total number of order items left without a product name",
		})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный с тем же описанием.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordCreateFailure учитывает неудачное создание заказа.
func (m *OrderMetrics) RecordCreateFailure(kind string) {
	if m == nil {
		return
	}
	m.createFailures.WithLabelValues(kind).Inc()
}

// RecordStatusChange учитывает сохранённый переход статуса.
func (m *OrderMetrics) RecordStatusChange(from, to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(from, to).Inc()
}

// RecordStatusNoop учитывает запрос смены статуса на текущий.
func (m *OrderMetrics) RecordStatusNoop() {
	if m == nil {
		return
	}
	m.statusNoops.Inc()
}

// RecordOperation фиксирует длительность операции сервиса.
func (m *OrderMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation, resultLabel(err)).Observe(duration.Seconds())
}

// RecordCatalogCall фиксирует длительность обращения к каталогу.
func (m *OrderMetrics) RecordCatalogCall(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.catalogDuration.WithLabelValues(resultLabel(err)).Observe(duration.Seconds())
}

// RecordEnrichmentMiss учитывает позицию, для которой каталог не вернул товар.
func (m *OrderMetrics) RecordEnrichmentMiss(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.enrichmentMisses.Add(float64(count))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
