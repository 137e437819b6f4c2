package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func newMockedProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()

	mock := mocks.NewSyncProducer(t, nil)
	producer := &Producer{
		sync:   mock,
		logger: log.WithField("component", "kafka-producer-test"),
	}
	t.Cleanup(func() {
		if err := mock.Close(); err != nil {
			t.Errorf("close mock producer: %v", err)
		}
	})

	return producer, mock
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mock := newMockedProducer(t)
	mock.ExpectSendMessageAndSucceed()

	event := NewOrderEvent(
		EventTypeOrderCreated,
		"order-123",
		"ORD00042",
		"WH-018",
		"Pending",
		map[string]interface{}{"source": "api"},
	)
	if err := producer.PublishEvent(TopicOrderEvents, event.Reference, event); err != nil {
		t.Fatalf("publish event: %v", err)
	}
}

func TestProducer_PublishEventBrokerError(t *testing.T) {
	producer, mock := newMockedProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewStockEvent(EventTypeStockReserved, "order-123", "P000001", 3)
	if err := producer.PublishEvent(TopicStockEvents, event.ItemReference, event); err == nil {
		t.Fatal("expected broker error")
	}
}

func TestProducer_PublishEventUnmarshalableEvent(t *testing.T) {
	producer, _ := newMockedProducer(t)

	// Каналы не сериализуются в JSON: ошибка до похода в Kafka.
	if err := producer.PublishEvent(TopicOrderEvents, "ORD00042", map[string]interface{}{"ch": make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestProducer_PublishRawKeepsPayloadIntact(t *testing.T) {
	producer, mock := newMockedProducer(t)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		if string(value) != `{"raw":true}` {
			t.Fatalf("payload changed on the way to kafka: %s", value)
		}
		return nil
	})

	headers := []sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}}
	if err := producer.PublishRaw(TopicOrderEvents, "ORD00042", []byte(`{"raw":true}`), headers); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
}

func TestProducer_CloseNil(t *testing.T) {
	var producer *Producer
	if err := producer.Close(); err != nil {
		t.Fatalf("nil producer close should be a no-op: %v", err)
	}
}

func TestNewOrderEvent(t *testing.T) {
	event := NewOrderEvent(
		EventTypeOrderStatusChanged,
		"order-123",
		"ORD00042",
		"WH-018",
		"Packed",
		map[string]interface{}{"previous_status": "Pending"},
	)

	if event.EventType != EventTypeOrderStatusChanged {
		t.Errorf("event type: got %s", event.EventType)
	}
	if event.Reference != "ORD00042" || event.WarehouseID != "WH-018" || event.Status != "Packed" {
		t.Errorf("unexpected order fields: %+v", event)
	}
	if event.Metadata["previous_status"] != "Pending" {
		t.Error("metadata not carried over")
	}
	if event.Timestamp.IsZero() || time.Since(event.Timestamp) > time.Second {
		t.Errorf("timestamp should be close to now, got %s", event.Timestamp)
	}
}

func TestNewStockEvent(t *testing.T) {
	event := NewStockEvent(EventTypeStockReleased, "order-123", "P000001", 7)

	if event.EventType != EventTypeStockReleased {
		t.Errorf("event type: got %s", event.EventType)
	}
	if event.OrderID != "order-123" || event.ItemReference != "P000001" || event.Amount != 7 {
		t.Errorf("unexpected stock fields: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}
