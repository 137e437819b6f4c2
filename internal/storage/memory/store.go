package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

// Store — общее in-memory хранилище заказов, инвентаря и отгрузок.
// Один мьютекс на всё хранилище: проверка остатка и резервирование
// выполняются под одной блокировкой, что исключает гонку двух
// конкурентных заказов на один товар (аналог SELECT ... FOR UPDATE).
type Store struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	byRef     map[string]string
	inventory map[string]domain.InventoryRecord
	shipments map[int64]domain.ShipmentRef
}

// NewStore возвращает пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		byRef:     make(map[string]string),
		inventory: make(map[string]domain.InventoryRecord),
		shipments: make(map[int64]domain.ShipmentRef),
	}
}

// SeedShipment записывает read-only представление отгрузки.
// В проде отгрузками владеет внешняя система; здесь они сидируются напрямую.
func (s *Store) SeedShipment(ref domain.ShipmentRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[ref.ID] = ref
}

// SeedInventory записывает запись инвентаря, не проверяя формулу.
func (s *Store) SeedInventory(record domain.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[record.ItemReference] = record
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderLine(nil), src.Items...)
	dst.ShipmentIDs = append([]int64(nil), src.ShipmentIDs...)
	return dst
}

// --- OrderRepository ---

type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает репозиторий заказов поверх общего Store.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// CreateReservingStock резервирует остатки и сохраняет заказ атомарно.
// Повторная проверка доступности выполняется под блокировкой хранилища,
// поэтому успешный внешний pre-check не гарантирует успех здесь.
func (r *orderRepositoryInMemory) CreateReservingStock(order domain.Order) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderExists
	}
	if _, exists := s.byRef[order.Reference]; exists {
		return domain.Order{}, domain.ErrOrderExists
	}

	// Сначала все проверки, затем все мутации: отказ не оставляет следов.
	for item, amount := range order.ReservedAmounts() {
		rec, ok := s.inventory[item]
		if !ok || rec.IsDeleted {
			return domain.Order{}, domain.ErrItemNotFound
		}
		if err := rec.CheckAvailability(amount); err != nil {
			return domain.Order{}, err
		}
	}

	now := time.Now().UTC()
	for item, amount := range order.ReservedAmounts() {
		rec := s.inventory[item]
		rec.Reserve(amount, now)
		s.inventory[item] = rec
	}

	s.orders[order.ID] = cloneOrder(order)
	s.byRef[order.Reference] = order.ID
	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound; мягко удалённые скрыты.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok || order.IsDeleted {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByReference ищет заказ по внешнему номеру.
func (r *orderRepositoryInMemory) GetByReference(reference string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[reference]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order := s.orders[id]
	if order.IsDeleted {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByWarehouse возвращает заказы склада, новые первыми.
func (r *orderRepositoryInMemory) ListByWarehouse(warehouseID string, limit int) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if order.IsDeleted {
			continue
		}
		if warehouseID != "" && order.WarehouseID != warehouseID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sortOrdersByCreatedDesc(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok || current.IsDeleted {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// SoftDeleteReleasingStock помечает заказ удалённым и возвращает резерв.
func (r *orderRepositoryInMemory) SoftDeleteReleasingStock(id string, deletedAt time.Time) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.IsDeleted {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	now := deletedAt.UTC()
	for item, amount := range order.ReservedAmounts() {
		rec, ok := s.inventory[item]
		if !ok {
			continue
		}
		rec.Release(amount, now)
		s.inventory[item] = rec
	}

	order.SoftDelete(now)
	order.Version++
	s.orders[id] = cloneOrder(order)
	return cloneOrder(order), nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)

// --- InventoryRepository ---

type inventoryRepositoryInMemory struct {
	store *Store
}

// NewInventoryRepository возвращает репозиторий инвентаря поверх общего Store.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepositoryInMemory{store: store}
}

func (r *inventoryRepositoryInMemory) Get(itemReference string) (domain.InventoryRecord, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.inventory[itemReference]
	if !ok || rec.IsDeleted {
		return domain.InventoryRecord{}, domain.ErrItemNotFound
	}
	return rec, nil
}

func (r *inventoryRepositoryInMemory) Put(record domain.InventoryRecord) error {
	if errs := record.Validate(); len(errs) > 0 {
		return errs[0]
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.inventory[record.ItemReference]; ok {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.inventory[record.ItemReference] = record
	return nil
}

func (r *inventoryRepositoryInMemory) Adjust(itemReference string, deltaOnHand, deltaExpected, deltaOrdered, deltaAllocated int64) (domain.InventoryRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.inventory[itemReference]
	if !ok || rec.IsDeleted {
		return domain.InventoryRecord{}, domain.ErrItemNotFound
	}
	rec.Adjust(deltaOnHand, deltaExpected, deltaOrdered, deltaAllocated, time.Now())
	s.inventory[itemReference] = rec
	return rec, nil
}

func (r *inventoryRepositoryInMemory) SoftDelete(itemReference string, deletedAt time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.inventory[itemReference]
	if !ok || rec.IsDeleted {
		return domain.ErrItemNotFound
	}
	rec.IsDeleted = true
	rec.DeletedAt = deletedAt.UTC()
	rec.UpdatedAt = deletedAt.UTC()
	s.inventory[itemReference] = rec
	return nil
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)

// --- ShipmentReader ---

type shipmentReaderInMemory struct {
	store *Store
}

// NewShipmentReader возвращает read-only доступ к сидированным отгрузкам.
func NewShipmentReader(store *Store) domain.ShipmentReader {
	return &shipmentReaderInMemory{store: store}
}

func (r *shipmentReaderInMemory) Get(id int64) (domain.ShipmentRef, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.shipments[id]
	if !ok {
		return domain.ShipmentRef{}, domain.ErrShipmentNotFound
	}
	return ref, nil
}

var _ domain.ShipmentReader = (*shipmentReaderInMemory)(nil)
