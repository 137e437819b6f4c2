package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа на складе.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, ожидает сборки.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusPacked — позиции заказа собраны и упакованы.
	OrderStatusPacked OrderStatus = "Packed"
	// OrderStatusShipped — заказ передан в отгрузку.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "Delivered"
)

// statusRank задаёт порядок статусов для проверки регрессии.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusPacked:    1,
	OrderStatusShipped:   2,
	OrderStatusDelivered: 3,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank возвращает порядковый номер статуса; -1 для неизвестного.
func (s OrderStatus) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// referencePattern — формат внешнего номера заказа.
var referencePattern = regexp.MustCompile(`^ORD\d{5}$`)

// OrderLine представляет одну позицию заказа: ссылку на товар и количество.
type OrderLine struct {
	ItemReference string
	Amount        int64
}

// Order агрегирует состояние заказа, его позиции и связанные отгрузки.
type Order struct {
	ID             string
	Reference      string
	SourceID       int64
	OrderDate      time.Time
	RequestDate    time.Time
	Status         OrderStatus
	WarehouseID    string
	ShipmentIDs    []int64
	Items          []OrderLine
	TotalAmount    decimal.Decimal
	TotalDiscount  decimal.Decimal
	TotalTax       decimal.Decimal
	TotalSurcharge decimal.Decimal
	Notes          string
	Version        int64
	IsDeleted      bool
	DeletedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if !referencePattern.MatchString(o.Reference) {
		errs = append(errs, ErrReferenceInvalid)
	}
	if o.WarehouseID == "" {
		errs = append(errs, ErrWarehouseRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusUnknown)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, line := range o.Items {
		if line.ItemReference == "" {
			errs = append(errs, ErrItemReferenceRequired)
		}
		if line.Amount <= 0 {
			errs = append(errs, ErrItemAmountInvalid)
		}
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrTotalAmountNegative)
	}

	return errs
}

// ApplyStatusUpdate переводит заказ в новый статус.
// Единственный запрет: из Delivered нельзя перейти в другой статус.
// Остальные переходы, включая пропуск стадий, разрешены.
func (o *Order) ApplyStatusUpdate(newStatus OrderStatus, now time.Time) error {
	if !newStatus.Valid() {
		return ErrStatusUnknown
	}
	if o.Status == OrderStatusDelivered && newStatus != OrderStatusDelivered {
		return &InvalidTransitionError{From: o.Status, To: newStatus}
	}
	o.Status = newStatus
	o.UpdatedAt = now.UTC()
	return nil
}

// ReservedAmounts возвращает суммарное зарезервированное количество по каждому товару.
func (o *Order) ReservedAmounts() map[string]int64 {
	amounts := make(map[string]int64, len(o.Items))
	for _, line := range o.Items {
		amounts[line.ItemReference] += line.Amount
	}
	return amounts
}

// SoftDelete помечает заказ удалённым, сохраняя запись для аудита.
func (o *Order) SoftDelete(now time.Time) {
	o.IsDeleted = true
	o.DeletedAt = now.UTC()
	o.UpdatedAt = now.UTC()
}
