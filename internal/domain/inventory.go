package domain

import "time"

// InventoryRecord хранит складские счётчики по одному товару.
// Каноническая формула остатка: TotalAvailable = TotalOnHand - TotalAllocated - TotalOrdered.
// Формула поддерживается при каждой мутации и не пересчитывается на чтении.
type InventoryRecord struct {
	ItemReference  string
	Description    string
	TotalOnHand    int64
	TotalExpected  int64
	TotalOrdered   int64
	TotalAllocated int64
	TotalAvailable int64
	IsDeleted      bool
	DeletedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CheckAvailability отвечает на вопрос "можно ли зарезервировать amount единиц".
// TotalAvailable может быть отрицательным из-за исторических данных;
// проверка строгая, поэтому любой положительный запрос к такому товару откажет.
func (r *InventoryRecord) CheckAvailability(amount int64) error {
	if amount > r.TotalAvailable {
		return &InsufficientStockError{
			ItemReference: r.ItemReference,
			Requested:     amount,
			Available:     r.TotalAvailable,
		}
	}
	return nil
}

// Reserve резервирует amount единиц под заказ: остаток уменьшается,
// заказанное количество растёт. Предусловие — успешный CheckAvailability.
func (r *InventoryRecord) Reserve(amount int64, now time.Time) {
	r.TotalOrdered += amount
	r.TotalAvailable -= amount
	r.UpdatedAt = now.UTC()
}

// Release снимает резерв (компенсация при удалении заказа).
func (r *InventoryRecord) Release(amount int64, now time.Time) {
	r.TotalOrdered -= amount
	r.TotalAvailable += amount
	r.UpdatedAt = now.UTC()
}

// Adjust применяет дельты к первичным счётчикам и восстанавливает
// каноническую формулу остатка. Используется при приёмке и инвентаризации.
func (r *InventoryRecord) Adjust(deltaOnHand, deltaExpected, deltaOrdered, deltaAllocated int64, now time.Time) {
	r.TotalOnHand += deltaOnHand
	r.TotalExpected += deltaExpected
	r.TotalOrdered += deltaOrdered
	r.TotalAllocated += deltaAllocated
	r.TotalAvailable = r.TotalOnHand - r.TotalAllocated - r.TotalOrdered
	r.UpdatedAt = now.UTC()
}

// Validate проверяет ключевые поля записи.
func (r *InventoryRecord) Validate() []error {
	var errs []error

	if r.ItemReference == "" {
		errs = append(errs, ErrItemReferenceRequired)
	}
	if r.TotalAvailable != r.TotalOnHand-r.TotalAllocated-r.TotalOrdered {
		errs = append(errs, ErrInventoryFormulaBroken)
	}

	return errs
}
