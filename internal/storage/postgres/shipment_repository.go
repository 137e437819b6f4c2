package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

type shipmentRepository struct {
	db *sql.DB
}

// NewShipmentReader создаёт read-only доступ к отгрузкам.
// Таблицей владеет внешняя система отгрузок; сервис её только читает.
func NewShipmentReader(store *Store) domain.ShipmentReader {
	return &shipmentRepository{db: store.DB()}
}

func (r *shipmentRepository) Get(id int64) (domain.ShipmentRef, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var ref domain.ShipmentRef
	var shipmentType string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, status, shipment_type
		FROM shipments
		WHERE id = $1
	`, id).Scan(&ref.ID, &ref.Status, &shipmentType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ShipmentRef{}, domain.ErrShipmentNotFound
		}
		return domain.ShipmentRef{}, fmt.Errorf("select shipment: %w", err)
	}
	ref.Type = domain.ShipmentType(shipmentType)

	return ref, nil
}

var _ domain.ShipmentReader = (*shipmentRepository)(nil)
