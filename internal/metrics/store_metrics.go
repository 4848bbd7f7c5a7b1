package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты checkout для label result.
const (
	CheckoutCompleted         = "completed"
	CheckoutEmptyCart         = "empty_cart"
	CheckoutNotSellable       = "not_sellable"
	CheckoutInsufficientStock = "insufficient_stock"
	CheckoutLockTimeout       = "lock_timeout"
	CheckoutStorageFault      = "storage_fault"
	CheckoutError             = "error"
)

// StoreMetrics содержит метрики витрины: checkout, склад и жизненный цикл заказа.
type StoreMetrics struct {
	checkoutTotal    *prometheus.CounterVec
	checkoutAborted  *prometheus.CounterVec
	checkoutRetries  prometheus.Counter
	checkoutDuration prometheus.Histogram
	checkoutInFlight prometheus.Gauge

	stockReleased prometheus.Counter
	stockClamped  prometheus.Counter

	orderTransitions *prometheus.CounterVec
	cartCache        *prometheus.CounterVec
	timelineEvents   prometheus.Counter
	outboxEvents     prometheus.Counter
}

// NewStoreMetrics создаёт метрики в default registry.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegisterer создаёт метрики в указанном registry (удобно для тестов).
func NewStoreMetricsWithRegisterer(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StoreMetrics{
		checkoutTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_total",
			Help: "Total number of checkouts grouped by result",
		}, []string{"result"}),
		checkoutAborted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_aborted_total",
			Help: "Aborted checkouts grouped by the last state reached",
		}, []string{"state"}),
		checkoutRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_retries_total",
			Help: "Checkout attempts repeated after a retryable error",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		checkoutInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_checkout_in_flight",
			Help: "Number of checkouts currently running",
		}),
		stockReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_released_units_total",
			Help: "Units returned to stock by order cancellation",
		}),
		stockClamped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_release_clamped_units_total",
			Help: "Units not returned to stock because release would exceed provisioned quantity",
		}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Order status transitions",
		}, []string{"from", "to"}),
		cartCache: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_cache_requests_total",
			Help: "Cart snapshot cache lookups grouped by result",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// CheckoutStarted увеличивает число выполняющихся checkout.
func (m *StoreMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutInFlight.Inc()
}

// CheckoutFinished фиксирует результат и длительность checkout.
func (m *StoreMetrics) CheckoutFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkoutInFlight.Dec()
	m.checkoutTotal.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// CheckoutAborted запоминает состояние, на котором checkout был прерван.
func (m *StoreMetrics) CheckoutAborted(state string) {
	if m == nil {
		return
	}
	m.checkoutAborted.WithLabelValues(state).Inc()
}

// CheckoutRetried увеличивает счётчик повторов.
func (m *StoreMetrics) CheckoutRetried() {
	if m == nil {
		return
	}
	m.checkoutRetries.Inc()
}

// StockReleased учитывает возврат остатка и усечённую часть.
func (m *StoreMetrics) StockReleased(released, clamped int) {
	if m == nil {
		return
	}
	m.stockReleased.Add(float64(released))
	m.stockClamped.Add(float64(clamped))
}

// OrderTransition учитывает смену статуса заказа.
func (m *StoreMetrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

// CartCacheLookup учитывает обращение к кэшу корзин: hit, miss или error.
func (m *StoreMetrics) CartCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cartCache.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *StoreMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *StoreMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
