package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) (*FulfillmentMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return newFulfillmentMetricsWithRegisterer(reg), reg
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewFulfillmentMetrics_Collectors(t *testing.T) {
	metrics, _ := newTestMetrics(t)

	if metrics.ordersCreated == nil {
		t.Error("ordersCreated counter should not be nil")
	}
	if metrics.ordersRejected == nil {
		t.Error("ordersRejected counter vec should not be nil")
	}
	if metrics.statusUpdates == nil {
		t.Error("statusUpdates counter should not be nil")
	}
	if metrics.ordersDeleted == nil {
		t.Error("ordersDeleted counter should not be nil")
	}
	if metrics.stockReserved == nil {
		t.Error("stockReserved counter should not be nil")
	}
	if metrics.stockReleased == nil {
		t.Error("stockReleased counter should not be nil")
	}
	if metrics.createDuration == nil {
		t.Error("createDuration histogram should not be nil")
	}
	if metrics.ordersInFlight == nil {
		t.Error("ordersInFlight gauge should not be nil")
	}
}

func TestFulfillmentMetrics_Counters(t *testing.T) {
	metrics, _ := newTestMetrics(t)

	metrics.RecordOrderCreated()
	metrics.RecordOrderCreated()
	if got := counterValue(t, metrics.ordersCreated); got != 2 {
		t.Fatalf("expected ordersCreated 2, got %v", got)
	}

	metrics.RecordStockReserved(5)
	metrics.RecordStockReleased(3)
	if got := counterValue(t, metrics.stockReserved); got != 5 {
		t.Fatalf("expected stockReserved 5, got %v", got)
	}
	if got := counterValue(t, metrics.stockReleased); got != 3 {
		t.Fatalf("expected stockReleased 3, got %v", got)
	}
}

func TestFulfillmentMetrics_RejectedByReason(t *testing.T) {
	metrics, _ := newTestMetrics(t)

	metrics.RecordOrderRejected(RejectReasonInsufficientStock)
	metrics.RecordOrderRejected(RejectReasonInsufficientStock)
	metrics.RecordOrderRejected(RejectReasonLinkRejected)

	if got := counterValue(t, metrics.ordersRejected.WithLabelValues(RejectReasonInsufficientStock)); got != 2 {
		t.Fatalf("expected 2 insufficient_stock rejections, got %v", got)
	}
	if got := counterValue(t, metrics.ordersRejected.WithLabelValues(RejectReasonLinkRejected)); got != 1 {
		t.Fatalf("expected 1 link_rejected rejection, got %v", got)
	}
}

func TestFulfillmentMetrics_DuplicateRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := newFulfillmentMetricsWithRegisterer(reg)
	second := newFulfillmentMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	second.RecordOrderCreated()

	if got := counterValue(t, second.ordersCreated); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestFulfillmentMetrics_Duration(t *testing.T) {
	metrics, reg := newTestMetrics(t)

	metrics.RecordCreateDuration(150 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "wms_order_create_duration_seconds" {
			found = true
			if family.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
				t.Fatal("expected one histogram observation")
			}
		}
	}
	if !found {
		t.Fatal("histogram not gathered")
	}
}
