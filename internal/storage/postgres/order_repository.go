package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// CreateReservingStock резервирует остатки и записывает заказ в одной транзакции.
// Строки инвентаря блокируются через SELECT ... FOR UPDATE, поэтому два
// конкурентных заказа на один товар сериализуются и переподписка исключена.
func (r *orderRepository) CreateReservingStock(order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Блокировка и повторная проверка остатка под локом строки.
	// Строки всегда блокируются в порядке item_reference: конкурентные
	// многострочные заказы с пересекающимися товарами не могут взять
	// локи навстречу друг другу.
	for _, reservation := range sortedReservations(order) {
		item, amount := reservation.item, reservation.amount
		var available int64
		var isDeleted bool
		err = tx.QueryRowContext(ctx, `
			SELECT total_available, is_deleted
			FROM inventories
			WHERE item_reference = $1
			FOR UPDATE
		`, item).Scan(&available, &isDeleted)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = domain.ErrItemNotFound
				return domain.Order{}, err
			}
			return domain.Order{}, fmt.Errorf("lock inventory row: %w", err)
		}
		if isDeleted {
			err = domain.ErrItemNotFound
			return domain.Order{}, err
		}
		if amount > available {
			err = &domain.InsufficientStockError{
				ItemReference: item,
				Available:     available,
				Requested:     amount,
			}
			return domain.Order{}, err
		}

		if _, err = tx.ExecContext(ctx, `
			UPDATE inventories
			SET total_ordered = total_ordered + $1,
			    total_available = total_available - $1,
			    updated_at = NOW()
			WHERE item_reference = $2
		`, amount, item); err != nil {
			return domain.Order{}, fmt.Errorf("reserve inventory: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, reference, source_id, order_date, request_date, status, warehouse_id,
			total_amount, total_discount, total_tax, total_surcharge, notes,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		order.ID, order.Reference, order.SourceID, order.OrderDate, order.RequestDate,
		string(order.Status), order.WarehouseID,
		order.TotalAmount, order.TotalDiscount, order.TotalTax, order.TotalSurcharge,
		order.Notes, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrOrderExists
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, item_reference, amount)
			VALUES ($1,$2,$3,$4)
		`, order.ID, i+1, line.ItemReference, line.Amount); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, shipmentID := range order.ShipmentIDs {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_shipments (order_id, shipment_id)
			VALUES ($1,$2)
		`, order.ID, shipmentID); err != nil {
			return domain.Order{}, fmt.Errorf("insert order shipment link: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByWhere(ctx, "id = $1", id)
}

func (r *orderRepository) GetByReference(reference string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByWhere(ctx, "reference = $1", reference)
}

func (r *orderRepository) getByWhere(ctx context.Context, where string, arg any) (domain.Order, error) {
	var order domain.Order
	var status string
	var deletedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, reference, source_id, order_date, request_date, status, warehouse_id,
		       total_amount, total_discount, total_tax, total_surcharge, notes,
		       version, is_deleted, deleted_at, created_at, updated_at
		FROM orders
		WHERE `+where+` AND is_deleted = FALSE
	`, arg).Scan(
		&order.ID, &order.Reference, &order.SourceID, &order.OrderDate, &order.RequestDate,
		&status, &order.WarehouseID,
		&order.TotalAmount, &order.TotalDiscount, &order.TotalTax, &order.TotalSurcharge,
		&order.Notes, &order.Version, &order.IsDeleted, &deletedAt,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	if deletedAt.Valid {
		order.DeletedAt = deletedAt.Time
	}

	if err := r.loadLines(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) ListByWarehouse(warehouseID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, reference, source_id, order_date, request_date, status, warehouse_id,
		       total_amount, total_discount, total_tax, total_surcharge, notes,
		       version, is_deleted, deleted_at, created_at, updated_at
		FROM orders
		WHERE is_deleted = FALSE
	`
	args := make([]any, 0, 2)
	if warehouseID != "" {
		args = append(args, warehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		var status string
		var deletedAt sql.NullTime
		if err := rows.Scan(
			&order.ID, &order.Reference, &order.SourceID, &order.OrderDate, &order.RequestDate,
			&status, &order.WarehouseID,
			&order.TotalAmount, &order.TotalDiscount, &order.TotalTax, &order.TotalSurcharge,
			&order.Notes, &order.Version, &order.IsDeleted, &deletedAt,
			&order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		if deletedAt.Valid {
			order.DeletedAt = deletedAt.Time
		}

		if err := r.loadLines(ctx, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

// Save перезаписывает изменяемые поля заказа с optimistic locking по version.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    notes = $2,
		    request_date = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
		  AND is_deleted = FALSE
	`,
		string(order.Status),
		order.Notes,
		order.RequestDate,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

// SoftDeleteReleasingStock помечает заказ удалённым и возвращает резерв
// по каждой позиции обратно в доступный остаток, всё в одной транзакции.
func (r *orderRepository) SoftDeleteReleasingStock(id string, deletedAt time.Time) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.getByWhere(ctx, "id = $1", id)
	if err != nil {
		return domain.Order{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := deletedAt.UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET is_deleted = TRUE,
		    deleted_at = $1,
		    version = version + 1,
		    updated_at = $1
		WHERE id = $2
		  AND is_deleted = FALSE
	`, now, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("soft delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrOrderNotFound
		return domain.Order{}, err
	}

	for _, reservation := range sortedReservations(order) {
		if _, err = tx.ExecContext(ctx, `
			UPDATE inventories
			SET total_ordered = total_ordered - $1,
			    total_available = total_available + $1,
			    updated_at = $2
			WHERE item_reference = $3
		`, reservation.amount, now, reservation.item); err != nil {
			return domain.Order{}, fmt.Errorf("release inventory: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit soft delete: %w", err)
	}

	order.SoftDelete(now)
	order.Version++
	return order, nil
}

func (r *orderRepository) loadLines(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_reference, amount
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ItemReference, &line.Amount); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	order.Items = items

	shipRows, err := r.db.QueryContext(ctx, `
		SELECT shipment_id
		FROM order_shipments
		WHERE order_id = $1
		ORDER BY shipment_id ASC
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order shipments: %w", err)
	}
	defer shipRows.Close()

	shipments := make([]int64, 0)
	for shipRows.Next() {
		var shipmentID int64
		if err := shipRows.Scan(&shipmentID); err != nil {
			return fmt.Errorf("scan order shipment: %w", err)
		}
		shipments = append(shipments, shipmentID)
	}
	if err := shipRows.Err(); err != nil {
		return fmt.Errorf("iterate order shipments: %w", err)
	}
	order.ShipmentIDs = shipments

	return nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type reservation struct {
	item   string
	amount int64
}

// sortedReservations раскладывает резерв заказа в стабильном порядке
// по item_reference для детерминированного порядка взятия локов.
func sortedReservations(order domain.Order) []reservation {
	amounts := order.ReservedAmounts()
	result := make([]reservation, 0, len(amounts))
	for item, amount := range amounts {
		result = append(result, reservation{item: item, amount: amount})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].item < result[j].item })
	return result
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
