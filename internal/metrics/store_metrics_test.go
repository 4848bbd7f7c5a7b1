package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewStoreMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetricsWithRegisterer(reg)

	if m.checkoutTotal == nil || m.checkoutDuration == nil || m.checkoutInFlight == nil {
		t.Fatal("checkout collectors should not be nil")
	}
	if m.stockReleased == nil || m.stockClamped == nil {
		t.Fatal("stock collectors should not be nil")
	}
}

func TestStoreMetrics_DoubleRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewStoreMetricsWithRegisterer(reg)
	second := NewStoreMetricsWithRegisterer(reg)

	first.CheckoutStarted()
	first.CheckoutFinished(CheckoutCompleted, 10*time.Millisecond)
	second.CheckoutStarted()
	second.CheckoutFinished(CheckoutCompleted, 10*time.Millisecond)

	if got := counterValue(t, first.checkoutTotal.WithLabelValues(CheckoutCompleted)); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestStoreMetrics_CheckoutLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetricsWithRegisterer(reg)

	m.CheckoutStarted()
	m.CheckoutAborted("ProductsLocked")
	m.CheckoutFinished(CheckoutInsufficientStock, 5*time.Millisecond)
	m.CheckoutRetried()

	if got := counterValue(t, m.checkoutTotal.WithLabelValues(CheckoutInsufficientStock)); got != 1 {
		t.Errorf("expected insufficient_stock=1, got %f", got)
	}
	if got := counterValue(t, m.checkoutAborted.WithLabelValues("ProductsLocked")); got != 1 {
		t.Errorf("expected aborted at ProductsLocked=1, got %f", got)
	}
	if got := counterValue(t, m.checkoutRetries); got != 1 {
		t.Errorf("expected retries=1, got %f", got)
	}

	gauge := &dto.Metric{}
	if err := m.checkoutInFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 0 {
		t.Errorf("expected in-flight 0, got %f", gauge.Gauge.GetValue())
	}
}

func TestStoreMetrics_StockReleased(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetricsWithRegisterer(reg)

	m.StockReleased(3, 1)
	m.StockReleased(2, 0)

	if got := counterValue(t, m.stockReleased); got != 5 {
		t.Errorf("expected released=5, got %f", got)
	}
	if got := counterValue(t, m.stockClamped); got != 1 {
		t.Errorf("expected clamped=1, got %f", got)
	}
}

func TestStoreMetrics_NilSafe(t *testing.T) {
	var m *StoreMetrics
	m.CheckoutStarted()
	m.CheckoutFinished(CheckoutCompleted, time.Millisecond)
	m.OrderTransition("new", "processing")
	m.CartCacheLookup("hit")
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
}
