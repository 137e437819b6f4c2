package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка некорректного номера заказа (ожидается формат ORD#####).
	ErrReferenceInvalid = errors.New("order reference must match ORD#####")
	// Ошибка отсутствующего идентификатора склада.
	ErrWarehouseRequired = errors.New("warehouse_id is required")
	// Ошибка неизвестного статуса заказа.
	ErrStatusUnknown = errors.New("unknown order status")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующей ссылки на товар в позиции.
	ErrItemReferenceRequired = errors.New("item reference is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemAmountInvalid = errors.New("item amount must be greater than zero")
	// Ошибка отрицательной суммы заказа.
	ErrTotalAmountNegative = errors.New("total_amount must be non-negative")
	// Ошибка нарушенной формулы остатка в записи инвентаря.
	ErrInventoryFormulaBroken = errors.New("inventory available does not match on_hand - allocated - ordered")
	// ErrOrderNotFound возвращается, если заказ не найден или мягко удалён.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если по товару нет записи инвентаря.
	ErrItemNotFound = errors.New("inventory record not found")
	// ErrShipmentNotFound возвращается, если отгрузка неизвестна.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrOrderExists сигнализирует о конфликте идентификатора или номера заказа.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// Человекочитаемые причины отказа привязки отгрузки. Тексты стабильны:
// клиенты показывают их без перевода.
const (
	LinkReasonIncomingShipment  = "cannot link order with an incoming shipment"
	LinkReasonDeliveredShipment = "cannot link order with Delivered shipment"
)

// InsufficientStockError возвращается, когда запрошено больше, чем доступно.
// Несёт точный остаток, чтобы клиент мог показать "only N available".
type InsufficientStockError struct {
	ItemReference string
	Requested     int64
	Available     int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: only %d available, requested %d",
		e.ItemReference, e.Available, e.Requested)
}

// LinkRejectedError возвращается при попытке связать заказ с неподходящей отгрузкой.
type LinkRejectedError struct {
	ShipmentID int64
	Reason     string
}

func (e *LinkRejectedError) Error() string {
	return fmt.Sprintf("shipment %d: %s", e.ShipmentID, e.Reason)
}

// InvalidTransitionError возвращается при запрещённом переходе статуса заказа.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Unable to change order status back from Delivered to %s", e.To)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsInsufficientStock распознаёт отказ по нехватке остатка.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsLinkRejected распознаёт отказ привязки отгрузки.
func IsLinkRejected(err error) bool {
	var target *LinkRejectedError
	return errors.As(err, &target)
}

// IsInvalidTransition распознаёт запрещённый переход статуса.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
