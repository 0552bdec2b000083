package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestOrderMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordCreateFailure("upstream")
	m.RecordStatusChange("PENDING", "PAID")
	m.RecordStatusNoop()
	m.RecordEnrichmentMiss(3)
	m.RecordEnrichmentMiss(0)

	if got := counterValue(t, m.ordersCreated); got != 2 {
		t.Errorf("expected 2 created orders, got %v", got)
	}
	if got := counterValue(t, m.createFailures.WithLabelValues("upstream")); got != 1 {
		t.Errorf("expected 1 upstream failure, got %v", got)
	}
	if got := counterValue(t, m.statusChanges.WithLabelValues("PENDING", "PAID")); got != 1 {
		t.Errorf("expected 1 status change, got %v", got)
	}
	if got := counterValue(t, m.statusNoops); got != 1 {
		t.Errorf("expected 1 noop, got %v", got)
	}
	if got := counterValue(t, m.enrichmentMisses); got != 3 {
		t.Errorf("expected 3 enrichment misses, got %v", got)
	}
}

func TestOrderMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordCatalogCall(nil, 10*time.Millisecond)
	m.RecordCatalogCall(errors.New("boom"), 20*time.Millisecond)
	m.RecordOperation("create", nil, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	samples := map[string]uint64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if h := metric.GetHistogram(); h != nil {
				samples[family.GetName()] += h.GetSampleCount()
			}
		}
	}
	if samples["oms_catalog_request_duration_seconds"] != 2 {
		t.Errorf("expected 2 catalog samples, got %d", samples["oms_catalog_request_duration_seconds"])
	}
	if samples["oms_order_operation_duration_seconds"] != 1 {
		t.Errorf("expected 1 operation sample, got %d", samples["oms_order_operation_duration_seconds"])
	}
}

func TestOrderMetrics_ReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	if got := counterValue(t, second.ordersCreated); got != 1 {
		t.Errorf("expected shared counter, got %v", got)
	}
}

func TestOrderMetrics_NilReceiver(t *testing.T) {
	var m *OrderMetrics
	m.RecordOrderCreated()
	m.RecordCreateFailure("validation")
	m.RecordStatusChange("PENDING", "PAID")
	m.RecordStatusNoop()
	m.RecordOperation("find_one", nil, time.Millisecond)
	m.RecordCatalogCall(nil, time.Millisecond)
	m.RecordEnrichmentMiss(1)
}
