package kafka

import "time"

// EventType определяет тип события фулфилмента.
type EventType string

const (
	// Order события
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderDeleted       EventType = "order.deleted"

	// Stock события
	EventTypeStockReserved EventType = "stock.reserved"
	EventTypeStockReleased EventType = "stock.released"

	// Входящие корректировки от приёмки и инвентаризации
	EventTypeStockReceived  EventType = "stock.received"
	EventTypeStockCorrected EventType = "stock.corrected"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "wms.order.events"
	TopicStockEvents      = "wms.stock.events"
	TopicStockAdjustments = "wms.stock.adjustments" // входящий поток от приёмки
	TopicDeadLetterQueue  = "wms.dlq"               // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа.
type OrderEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderID     string                 `json:"order_id"`
	Reference   string                 `json:"reference"`
	WarehouseID string                 `json:"warehouse_id"`
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StockEvent представляет движение остатка по товару.
type StockEvent struct {
	EventType     EventType `json:"event_type"`
	OrderID       string    `json:"order_id"`
	ItemReference string    `json:"item_reference"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа.
func NewOrderEvent(eventType EventType, orderID, reference, warehouseID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:   eventType,
		OrderID:     orderID,
		Reference:   reference,
		WarehouseID: warehouseID,
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Metadata:    metadata,
	}
}

// NewStockEvent создает новое событие движения остатка.
func NewStockEvent(eventType EventType, orderID, itemReference string, amount int64) *StockEvent {
	return &StockEvent{
		EventType:     eventType,
		OrderID:       orderID,
		ItemReference: itemReference,
		Amount:        amount,
		Timestamp:     time.Now().UTC(),
	}
}
