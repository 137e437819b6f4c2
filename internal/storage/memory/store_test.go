package memory_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/storage/memory"
)

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.SeedInventory(domain.InventoryRecord{
		ItemReference:  "P000001",
		TotalOnHand:    5,
		TotalAvailable: 5,
	})
	store.SeedShipment(domain.ShipmentRef{ID: 9102, Status: "Pending", Type: domain.ShipmentTypeOutgoing})
	return store
}

func newOrder(id, reference string, amount int64) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          id,
		Reference:   reference,
		Status:      domain.OrderStatusPending,
		WarehouseID: "WH-1",
		ShipmentIDs: []int64{9102},
		Items: []domain.OrderLine{
			{ItemReference: "P000001", Amount: amount},
		},
		OrderDate: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_CreateReservingStock(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)
	inventory := memory.NewInventoryRepository(store)

	created, err := orders.CreateReservingStock(newOrder("order-1", "ORD00001", 1))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "order-1" {
		t.Fatalf("expected id order-1, got %s", created.ID)
	}

	rec, err := inventory.Get("P000001")
	if err != nil {
		t.Fatalf("inventory get failed: %v", err)
	}
	if rec.TotalAvailable != 4 {
		t.Fatalf("expected available 4, got %d", rec.TotalAvailable)
	}
	if rec.TotalOrdered != 1 {
		t.Fatalf("expected ordered 1, got %d", rec.TotalOrdered)
	}
}

func TestOrderRepository_CreateInsufficientStock(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)
	inventory := memory.NewInventoryRepository(store)

	_, err := orders.CreateReservingStock(newOrder("order-1", "ORD00001", 6))
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 5 {
		t.Fatalf("expected available 5 in payload, got %v", err)
	}

	// Отказ не должен оставить следов в счётчиках.
	rec, _ := inventory.Get("P000001")
	if rec.TotalAvailable != 5 || rec.TotalOrdered != 0 {
		t.Fatalf("counters changed on rejected create: %+v", rec)
	}

	if _, err := orders.Get("order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order must not exist after rejection, got %v", err)
	}
}

func TestOrderRepository_CreateUnknownItem(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)

	order := newOrder("order-1", "ORD00001", 1)
	order.Items[0].ItemReference = "P999999"

	if _, err := orders.CreateReservingStock(order); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestOrderRepository_CreateDuplicateReference(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)

	if _, err := orders.CreateReservingStock(newOrder("order-1", "ORD00001", 1)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := orders.CreateReservingStock(newOrder("order-2", "ORD00001", 1)); !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got %v", err)
	}
}

// Два конкурентных заказа по 5 единиц при остатке 5: ровно один успешен.
func TestOrderRepository_ConcurrentCreateNoOverselling(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)
	inventory := memory.NewInventoryRepository(store)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := newOrder("order-"+string(rune('a'+i)), "ORD0000"+string(rune('1'+i)), 5)
			_, results[i] = orders.CreateReservingStock(order)
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case domain.IsInsufficientStock(err):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one rejection, got %d/%d", succeeded, insufficient)
	}

	rec, _ := inventory.Get("P000001")
	if rec.TotalAvailable != 0 {
		t.Fatalf("expected available 0, got %d", rec.TotalAvailable)
	}
	if rec.TotalAvailable < 0 {
		t.Fatalf("available must never go negative, got %d", rec.TotalAvailable)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)

	created, err := orders.CreateReservingStock(newOrder("order-1", "ORD00001", 1))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	created.Version = 42
	if err := orders.Save(created); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestOrderRepository_SoftDeleteReleasingStock(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)
	inventory := memory.NewInventoryRepository(store)

	if _, err := orders.CreateReservingStock(newOrder("order-1", "ORD00001", 3)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := orders.SoftDeleteReleasingStock("order-1", time.Now())
	if err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	if !deleted.IsDeleted {
		t.Fatal("expected IsDeleted true")
	}

	// Резерв возвращён в доступный остаток.
	rec, _ := inventory.Get("P000001")
	if rec.TotalAvailable != 5 || rec.TotalOrdered != 0 {
		t.Fatalf("reservation not released: %+v", rec)
	}

	// Мягко удалённый заказ скрыт от чтения.
	if _, err := orders.Get("order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for deleted order, got %v", err)
	}
	if _, err := orders.SoftDeleteReleasingStock("order-1", time.Now()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("double delete must be ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByWarehouse(t *testing.T) {
	store := seededStore()
	orders := memory.NewOrderRepository(store)

	if _, err := orders.CreateReservingStock(newOrder("order-1", "ORD00001", 1)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other := newOrder("order-2", "ORD00002", 1)
	other.WarehouseID = "WH-2"
	if _, err := orders.CreateReservingStock(other); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := orders.ListByWarehouse("WH-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "order-1" {
		t.Fatalf("unexpected listing: %+v", got)
	}
}

func TestInventoryRepository_Adjust(t *testing.T) {
	store := seededStore()
	inventory := memory.NewInventoryRepository(store)

	rec, err := inventory.Adjust("P000001", 10, 0, 0, 2)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if rec.TotalOnHand != 15 {
		t.Fatalf("expected on_hand 15, got %d", rec.TotalOnHand)
	}
	if rec.TotalAvailable != 15-2 {
		t.Fatalf("expected available 13, got %d", rec.TotalAvailable)
	}
}

func TestInventoryRepository_SoftDelete(t *testing.T) {
	store := seededStore()
	inventory := memory.NewInventoryRepository(store)

	if err := inventory.SoftDelete("P000001", time.Now()); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	if _, err := inventory.Get("P000001"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound after soft delete, got %v", err)
	}
}

func TestShipmentReader_Get(t *testing.T) {
	store := seededStore()
	shipments := memory.NewShipmentReader(store)

	ref, err := shipments.Get(9102)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ref.Type != domain.ShipmentTypeOutgoing {
		t.Fatalf("expected outgoing type, got %s", ref.Type)
	}

	if _, err := shipments.Get(404); !errors.Is(err, domain.ErrShipmentNotFound) {
		t.Fatalf("expected ErrShipmentNotFound, got %v", err)
	}
}
