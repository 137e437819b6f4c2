package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Метки причин отказа для счётчика отклонённых заказов.
const (
	RejectReasonInsufficientStock = "insufficient_stock"
	RejectReasonLinkRejected      = "link_rejected"
	RejectReasonInvalidTransition = "invalid_transition"
	RejectReasonNotFound          = "not_found"
	RejectReasonValidation        = "validation"
)

// FulfillmentMetrics содержит метрики операций фулфилмента.
type FulfillmentMetrics struct {
	// Счётчики операций
	ordersCreated  prometheus.Counter
	ordersRejected *prometheus.CounterVec
	statusUpdates  prometheus.Counter
	ordersDeleted  prometheus.Counter

	// Объёмы резервирования в единицах товара
	stockReserved prometheus.Counter
	stockReleased prometheus.Counter

	// Гистограмма времени создания заказа
	createDuration prometheus.Histogram

	// Счётчики событий timeline/outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для заказов в обработке
	ordersInFlight prometheus.Gauge
}

// NewFulfillmentMetrics создаёт новый экземпляр метрик фулфилмента.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return newFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_orders_created_total",
			Help: "Total number of orders created with stock reserved",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "wms_orders_rejected_total",
			Help: "Total number of rejected order operations grouped by reason",
		}, []string{"reason"}),
		statusUpdates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_order_status_updates_total",
			Help: "Total number of applied order status updates",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_orders_deleted_total",
			Help: "Total number of soft-deleted orders",
		}),
		stockReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_stock_reserved_units_total",
			Help: "Total units of stock reserved by order creation",
		}),
		stockReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_stock_released_units_total",
			Help: "Total units of stock released back by order deletion",
		}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "wms_order_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "wms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		ordersInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "wms_orders_in_flight",
			Help: "Number of order operations currently being processed",
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

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *FulfillmentMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderRejected увеличивает счётчик отказов с причиной.
func (m *FulfillmentMetrics) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordStatusUpdate увеличивает счётчик применённых смен статуса.
func (m *FulfillmentMetrics) RecordStatusUpdate() {
	m.statusUpdates.Inc()
}

// RecordOrderDeleted увеличивает счётчик мягко удалённых заказов.
func (m *FulfillmentMetrics) RecordOrderDeleted() {
	m.ordersDeleted.Inc()
}

// RecordStockReserved учитывает зарезервированные единицы.
func (m *FulfillmentMetrics) RecordStockReserved(units int64) {
	m.stockReserved.Add(float64(units))
}

// RecordStockReleased учитывает возвращённые единицы.
func (m *FulfillmentMetrics) RecordStockReleased(units int64) {
	m.stockReleased.Add(float64(units))
}

// RecordCreateDuration записывает время создания заказа.
func (m *FulfillmentMetrics) RecordCreateDuration(duration time.Duration) {
	m.createDuration.Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *FulfillmentMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *FulfillmentMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordInFlightStarted увеличивает количество операций в обработке.
func (m *FulfillmentMetrics) RecordInFlightStarted() {
	m.ordersInFlight.Inc()
}

// RecordInFlightFinished уменьшает количество операций в обработке.
func (m *FulfillmentMetrics) RecordInFlightFinished() {
	m.ordersInFlight.Dec()
}
