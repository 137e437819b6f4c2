package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
// Создание и мягкое удаление заказа захватывают также счётчики инвентаря:
// резерв и заказ — одна атомарная единица, частичные записи недопустимы.
type OrderRepository interface {
	// CreateReservingStock в одной транзакции резервирует остаток по каждой
	// позиции и сохраняет заказ. Проверка доступности повторяется под
	// блокировкой строки инвентаря, поэтому два конкурентных заказа не могут
	// распродать один и тот же остаток. Возвращает InsufficientStockError,
	// ErrItemNotFound или ErrOrderExists без каких-либо побочных эффектов.
	CreateReservingStock(order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	// Мягко удалённые заказы не возвращаются.
	Get(id string) (Order, error)
	// GetByReference возвращает заказ по внешнему номеру ORD#####.
	GetByReference(reference string) (Order, error)
	// ListByWarehouse возвращает заказы склада с опциональным лимитом.
	ListByWarehouse(warehouseID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// SoftDeleteReleasingStock помечает заказ удалённым и в той же транзакции
	// возвращает зарезервированное количество в доступный остаток.
	SoftDeleteReleasingStock(id string, deletedAt time.Time) (Order, error)
}

// InventoryRepository описывает хранилище складских счётчиков.
type InventoryRepository interface {
	// Get возвращает запись инвентаря или ErrItemNotFound.
	Get(itemReference string) (InventoryRecord, error)
	// Put создаёт или перезаписывает запись инвентаря.
	Put(record InventoryRecord) error
	// Adjust применяет дельты к первичным счётчикам атомарно,
	// поддерживая каноническую формулу остатка.
	Adjust(itemReference string, deltaOnHand, deltaExpected, deltaOrdered, deltaAllocated int64) (InventoryRecord, error)
	// SoftDelete помечает запись удалённой; счётчики остаются для аудита.
	SoftDelete(itemReference string, deletedAt time.Time) error
}

// ShipmentReader — read-only доступ к статусам отгрузок.
// Жизненным циклом отгрузок владеет внешняя система.
type ShipmentReader interface {
	// Get возвращает ShipmentRef или ErrShipmentNotFound.
	Get(id int64) (ShipmentRef, error)
}
