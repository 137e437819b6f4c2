package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) Get(itemReference string) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rec domain.InventoryRecord
	var deletedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT item_reference, description,
		       total_on_hand, total_expected, total_ordered, total_allocated, total_available,
		       is_deleted, deleted_at, created_at, updated_at
		FROM inventories
		WHERE item_reference = $1 AND is_deleted = FALSE
	`, itemReference).Scan(
		&rec.ItemReference, &rec.Description,
		&rec.TotalOnHand, &rec.TotalExpected, &rec.TotalOrdered, &rec.TotalAllocated, &rec.TotalAvailable,
		&rec.IsDeleted, &deletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrItemNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("select inventory: %w", err)
	}
	if deletedAt.Valid {
		rec.DeletedAt = deletedAt.Time
	}

	return rec, nil
}

// Put создаёт или полностью перезаписывает запись инвентаря.
func (r *inventoryRepository) Put(record domain.InventoryRecord) error {
	if errs := record.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventories (
			item_reference, description,
			total_on_hand, total_expected, total_ordered, total_allocated, total_available,
			is_deleted, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,NOW(),NOW())
		ON CONFLICT (item_reference) DO UPDATE
		SET description = EXCLUDED.description,
		    total_on_hand = EXCLUDED.total_on_hand,
		    total_expected = EXCLUDED.total_expected,
		    total_ordered = EXCLUDED.total_ordered,
		    total_allocated = EXCLUDED.total_allocated,
		    total_available = EXCLUDED.total_available,
		    is_deleted = FALSE,
		    deleted_at = NULL,
		    updated_at = NOW()
	`,
		record.ItemReference, record.Description,
		record.TotalOnHand, record.TotalExpected, record.TotalOrdered,
		record.TotalAllocated, record.TotalAvailable,
	)
	if err != nil {
		return fmt.Errorf("upsert inventory: %w", err)
	}

	return nil
}

// Adjust атомарно сдвигает счётчики; total_available пересчитывается по формуле.
func (r *inventoryRepository) Adjust(itemReference string, deltaOnHand, deltaExpected, deltaOrdered, deltaAllocated int64) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rec domain.InventoryRecord
	var deletedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		UPDATE inventories
		SET total_on_hand = total_on_hand + $1,
		    total_expected = total_expected + $2,
		    total_ordered = total_ordered + $3,
		    total_allocated = total_allocated + $4,
		    total_available = (total_on_hand + $1) - (total_allocated + $4) - (total_ordered + $3),
		    updated_at = NOW()
		WHERE item_reference = $5 AND is_deleted = FALSE
		RETURNING item_reference, description,
		          total_on_hand, total_expected, total_ordered, total_allocated, total_available,
		          is_deleted, deleted_at, created_at, updated_at
	`,
		deltaOnHand, deltaExpected, deltaOrdered, deltaAllocated, itemReference,
	).Scan(
		&rec.ItemReference, &rec.Description,
		&rec.TotalOnHand, &rec.TotalExpected, &rec.TotalOrdered, &rec.TotalAllocated, &rec.TotalAvailable,
		&rec.IsDeleted, &deletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrItemNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("adjust inventory: %w", err)
	}
	if deletedAt.Valid {
		rec.DeletedAt = deletedAt.Time
	}

	return rec, nil
}

func (r *inventoryRepository) SoftDelete(itemReference string, deletedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE inventories
		SET is_deleted = TRUE,
		    deleted_at = $1,
		    updated_at = $1
		WHERE item_reference = $2 AND is_deleted = FALSE
	`, deletedAt.UTC(), itemReference)
	if err != nil {
		return fmt.Errorf("soft delete inventory: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrItemNotFound
	}

	return nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
