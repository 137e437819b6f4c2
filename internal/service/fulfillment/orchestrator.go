package fulfillment

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/wms/internal/metrics"
)

// Названия событий timeline заказа.
const (
	timelineEventOrderCreated       = "OrderCreated"
	timelineEventOrderStatusChanged = "OrderStatusChanged"
	timelineEventOrderDeleted       = "OrderDeleted"
)

// LineInput — одна позиция входящего запроса на создание заказа.
type LineInput struct {
	ItemReference string
	Amount        int64
}

// CreateOrderInput — предвалидированный запрос на создание заказа.
// Типы и форматы полей проверяет внешний слой схем; оркестратор
// отвечает за бизнес-инварианты и консистентность остатков.
type CreateOrderInput struct {
	SourceID       int64
	OrderDate      time.Time
	RequestDate    time.Time
	Reference      string
	Status         domain.OrderStatus
	WarehouseID    string
	ShipmentIDs    []int64
	Items          []LineInput
	TotalAmount    decimal.Decimal
	TotalDiscount  decimal.Decimal
	TotalTax       decimal.Decimal
	TotalSurcharge decimal.Decimal
	Notes          string
}

// ValidationError агрегирует нарушенные инварианты заказа.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	if len(e.Errs) == 0 {
		return "invalid order"
	}
	msg := e.Errs[0].Error()
	for _, err := range e.Errs[1:] {
		msg += "; " + err.Error()
	}
	return msg
}

// IsValidation распознаёт ошибку нарушенных инвариантов.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Orchestrator описывает публичные операции фулфилмента.
type Orchestrator interface {
	// CreateOrder валидирует остатки и привязки отгрузок, затем атомарно
	// резервирует остаток и сохраняет заказ.
	CreateOrder(input CreateOrderInput) (domain.Order, error)
	// UpdateOrderStatus применяет переход статуса с учётом терминальности Delivered.
	UpdateOrderStatus(orderID string, newStatus domain.OrderStatus) (domain.Order, error)
	// DeleteOrder мягко удаляет заказ и возвращает резерв в доступный остаток.
	DeleteOrder(orderID string) (domain.Order, error)
}

// orchestrator последовательно выполняет шаги: проверка остатков →
// проверка привязок отгрузок → атомарный резерв с записью заказа.
type orchestrator struct {
	orders        domain.OrderRepository
	inventory     domain.InventoryRepository
	shipments     domain.ShipmentReader
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	logger        *log.Entry
	metrics       *metrics.FulfillmentMetrics
	kafkaProducer *kafka.Producer // опциональный producer для event-driven интеграций
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	inventory domain.InventoryRepository,
	shipments domain.ShipmentReader,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &orchestrator{
		orders:    orders,
		inventory: inventory,
		shipments: shipments,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
		metrics:   metrics.NewFulfillmentMetrics(),
	}
}

// NewOrchestratorWithKafka создаёт оркестратор с Kafka producer.
func NewOrchestratorWithKafka(
	orders domain.OrderRepository,
	inventory domain.InventoryRepository,
	shipments domain.ShipmentReader,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &orchestrator{
		orders:        orders,
		inventory:     inventory,
		shipments:     shipments,
		outbox:        outbox,
		timeline:      timeline,
		logger:        logger,
		metrics:       metrics.NewFulfillmentMetrics(),
		kafkaProducer: kafkaProducer,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderRepository,
	inventory domain.InventoryRepository,
	shipments domain.ShipmentReader,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &orchestrator{
		orders:    orders,
		inventory: inventory,
		shipments: shipments,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
	}
}

// CreateOrder выполняет полный цикл создания заказа.
// Все проверки идут до каких-либо мутаций: отклонённый запрос не оставляет следов.
func (o *orchestrator) CreateOrder(input CreateOrderInput) (domain.Order, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordInFlightStarted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordInFlightFinished()
			o.metrics.RecordCreateDuration(time.Since(start))
		}
	}()

	now := time.Now().UTC()
	status := input.Status
	if status == "" {
		status = domain.OrderStatusPending
	}

	order := domain.Order{
		ID:             uuid.NewString(),
		Reference:      input.Reference,
		SourceID:       input.SourceID,
		OrderDate:      input.OrderDate,
		RequestDate:    input.RequestDate,
		Status:         status,
		WarehouseID:    input.WarehouseID,
		ShipmentIDs:    append([]int64(nil), input.ShipmentIDs...),
		TotalAmount:    input.TotalAmount,
		TotalDiscount:  input.TotalDiscount,
		TotalTax:       input.TotalTax,
		TotalSurcharge: input.TotalSurcharge,
		Notes:          input.Notes,
		Version:        0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, line := range input.Items {
		order.Items = append(order.Items, domain.OrderLine{
			ItemReference: line.ItemReference,
			Amount:        line.Amount,
		})
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		o.recordRejection(metrics.RejectReasonValidation)
		return domain.Order{}, &ValidationError{Errs: errs}
	}

	// Шаг 1: предварительная проверка остатков. Первая нехватка прерывает запрос.
	for _, line := range order.Items {
		rec, err := o.inventory.Get(line.ItemReference)
		if err != nil {
			o.recordRejection(metrics.RejectReasonNotFound)
			return domain.Order{}, err
		}
		if err := rec.CheckAvailability(line.Amount); err != nil {
			o.logger.WithFields(log.Fields{
				"reference": order.Reference,
				"item":      line.ItemReference,
			}).Warn("order rejected: insufficient stock")
			o.recordRejection(metrics.RejectReasonInsufficientStock)
			return domain.Order{}, err
		}
	}

	// Шаг 2: проверка привязок отгрузок. Порядок проверок в ValidateLink фиксирован.
	for _, shipmentID := range order.ShipmentIDs {
		ref, err := o.shipments.Get(shipmentID)
		if err != nil {
			o.recordRejection(metrics.RejectReasonNotFound)
			return domain.Order{}, err
		}
		if err := domain.ValidateLink(ref); err != nil {
			o.logger.WithFields(log.Fields{
				"reference":   order.Reference,
				"shipment_id": shipmentID,
			}).Warn("order rejected: shipment link not allowed")
			o.recordRejection(metrics.RejectReasonLinkRejected)
			return domain.Order{}, err
		}
	}

	// Шаг 3: атомарный резерв + запись заказа. Репозиторий повторяет
	// проверку остатка под блокировкой строки, поэтому конкурентный заказ
	// может быть отклонён и здесь.
	created, err := o.orders.CreateReservingStock(order)
	if err != nil {
		if domain.IsInsufficientStock(err) {
			o.recordRejection(metrics.RejectReasonInsufficientStock)
			return domain.Order{}, err
		}
		o.logger.WithError(err).WithField("reference", order.Reference).Error("failed to persist order")
		return domain.Order{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
		for _, amount := range created.ReservedAmounts() {
			o.metrics.RecordStockReserved(amount)
		}
	}

	o.emitEvent(&created, timelineEventOrderCreated, map[string]interface{}{
		"status": string(created.Status),
		"ts":     created.CreatedAt.Format(time.RFC3339Nano),
	})
	o.publishOrderEvent(kafka.EventTypeOrderCreated, &created, nil)
	for item, amount := range created.ReservedAmounts() {
		o.publishStockEvent(kafka.EventTypeStockReserved, created.ID, item, amount)
	}

	o.logger.WithFields(log.Fields{
		"order_id":  created.ID,
		"reference": created.Reference,
	}).Info("order created")

	return created, nil
}

// UpdateOrderStatus применяет переход статуса и сохраняет заказ.
// Реализует retry с exponential backoff для version conflicts.
func (o *orchestrator) UpdateOrderStatus(orderID string, newStatus domain.OrderStatus) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		o.recordRejection(metrics.RejectReasonNotFound)
		return domain.Order{}, err
	}

	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := order.ApplyStatusUpdate(newStatus, time.Now()); err != nil {
			if domain.IsInvalidTransition(err) {
				o.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"status":   newStatus,
				}).Warn("status regression from Delivered rejected")
				o.recordRejection(metrics.RejectReasonInvalidTransition)
			}
			return domain.Order{}, err
		}

		saveErr := o.orders.Save(order)
		if saveErr == nil {
			order.Version++
			if o.metrics != nil {
				o.metrics.RecordStatusUpdate()
			}
			o.emitEvent(&order, timelineEventOrderStatusChanged, map[string]interface{}{
				"status":     string(order.Status),
				"updated_at": order.UpdatedAt.Format(time.RFC3339Nano),
				"ts":         order.UpdatedAt.Format(time.RFC3339Nano),
			})
			o.publishOrderEvent(kafka.EventTypeOrderStatusChanged, &order, nil)
			return order, nil
		}

		if domain.IsVersionConflict(saveErr) && attempt < maxRetries-1 {
			o.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Warn("version conflict detected, retrying")

			fresh, loadErr := o.orders.Get(order.ID)
			if loadErr != nil {
				return domain.Order{}, loadErr
			}
			order = fresh

			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}

		o.logger.WithError(saveErr).WithField("order_id", order.ID).Error("failed to persist status")
		return domain.Order{}, saveErr
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// DeleteOrder мягко удаляет заказ; резерв по каждой позиции возвращается
// в доступный остаток в той же транзакции хранилища.
func (o *orchestrator) DeleteOrder(orderID string) (domain.Order, error) {
	deleted, err := o.orders.SoftDeleteReleasingStock(orderID, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			o.recordRejection(metrics.RejectReasonNotFound)
		}
		return domain.Order{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordOrderDeleted()
		for _, amount := range deleted.ReservedAmounts() {
			o.metrics.RecordStockReleased(amount)
		}
	}

	o.emitEvent(&deleted, timelineEventOrderDeleted, map[string]interface{}{
		"ts": deleted.DeletedAt.Format(time.RFC3339Nano),
	})
	o.publishOrderEvent(kafka.EventTypeOrderDeleted, &deleted, nil)
	for item, amount := range deleted.ReservedAmounts() {
		o.publishStockEvent(kafka.EventTypeStockReleased, deleted.ID, item, amount)
	}

	o.logger.WithField("order_id", deleted.ID).Info("order soft-deleted, reservation released")
	return deleted, nil
}

func (o *orchestrator) recordRejection(reason string) {
	if o.metrics != nil {
		o.metrics.RecordOrderRejected(reason)
	}
}

// emitEvent пишет событие в transactional outbox и в timeline заказа.
func (o *orchestrator) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["reference"] = order.Reference

	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if o.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := o.outbox.Enqueue(msg); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if o.metrics != nil {
			o.metrics.RecordOutboxEvent()
		}
	}

	if o.timeline != nil {
		var occurred time.Time
		if ts, ok := payload["ts"].(string); ok {
			if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
				occurred = parsed
			}
		}
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Occurred: occurred,
		}
		if err := o.timeline.Append(event); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}

// publishOrderEvent публикует событие заказа в Kafka (если producer настроен).
func (o *orchestrator) publishOrderEvent(eventType kafka.EventType, order *domain.Order, metadata map[string]interface{}) {
	if o.kafkaProducer == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.Reference, order.WarehouseID, string(order.Status), metadata)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
		// Kafka опциональный: логируем и продолжаем.
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}

func (o *orchestrator) publishStockEvent(eventType kafka.EventType, orderID, itemReference string, amount int64) {
	if o.kafkaProducer == nil {
		return
	}

	event := kafka.NewStockEvent(eventType, orderID, itemReference, amount)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicStockEvents, itemReference, event); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"item":       itemReference,
		}).Warn("failed to publish stock event to kafka")
	}
}

var _ Orchestrator = (*orchestrator)(nil)
