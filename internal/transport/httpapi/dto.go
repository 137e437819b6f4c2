package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/service/fulfillment"
)

// orderLineRequest — позиция заказа во входящем запросе.
type orderLineRequest struct {
	ItemID string `json:"item_id"`
	Amount int64  `json:"amount"`
}

// orderCreateRequest — тело POST /api/v1/orders.
type orderCreateRequest struct {
	SourceID       int64              `json:"source_id"`
	OrderDate      time.Time          `json:"order_date"`
	RequestDate    time.Time          `json:"request_date"`
	Reference      string             `json:"reference"`
	OrderStatus    string             `json:"order_status"`
	WarehouseID    string             `json:"warehouse_id"`
	ShipmentIDs    []int64            `json:"shipment_id"`
	Items          []orderLineRequest `json:"items"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	TotalDiscount  decimal.Decimal    `json:"total_discount"`
	TotalTax       decimal.Decimal    `json:"total_tax"`
	TotalSurcharge decimal.Decimal    `json:"total_surcharge"`
	Notes          string             `json:"notes"`
}

func (r orderCreateRequest) toInput() fulfillment.CreateOrderInput {
	input := fulfillment.CreateOrderInput{
		SourceID:       r.SourceID,
		OrderDate:      r.OrderDate,
		RequestDate:    r.RequestDate,
		Reference:      r.Reference,
		Status:         domain.OrderStatus(r.OrderStatus),
		WarehouseID:    r.WarehouseID,
		ShipmentIDs:    r.ShipmentIDs,
		TotalAmount:    r.TotalAmount,
		TotalDiscount:  r.TotalDiscount,
		TotalTax:       r.TotalTax,
		TotalSurcharge: r.TotalSurcharge,
		Notes:          r.Notes,
	}
	for _, line := range r.Items {
		input.Items = append(input.Items, fulfillment.LineInput{
			ItemReference: line.ItemID,
			Amount:        line.Amount,
		})
	}
	return input
}

// statusUpdateRequest — тело PUT /api/v1/orders/:id/status.
type statusUpdateRequest struct {
	Status string `json:"status"`
}

// orderLineResponse — позиция заказа в ответе.
type orderLineResponse struct {
	ItemID string `json:"item_id"`
	Amount int64  `json:"amount"`
}

// orderResponse — представление заказа в ответах API.
type orderResponse struct {
	ID             string              `json:"id"`
	Reference      string              `json:"reference"`
	SourceID       int64               `json:"source_id"`
	OrderDate      time.Time           `json:"order_date"`
	RequestDate    time.Time           `json:"request_date"`
	Status         string              `json:"order_status"`
	WarehouseID    string              `json:"warehouse_id"`
	ShipmentIDs    []int64             `json:"shipment_id"`
	Items          []orderLineResponse `json:"items"`
	TotalAmount    decimal.Decimal     `json:"total_amount"`
	TotalDiscount  decimal.Decimal     `json:"total_discount"`
	TotalTax       decimal.Decimal     `json:"total_tax"`
	TotalSurcharge decimal.Decimal     `json:"total_surcharge"`
	Notes          string              `json:"notes"`
	Version        int64               `json:"version"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:             order.ID,
		Reference:      order.Reference,
		SourceID:       order.SourceID,
		OrderDate:      order.OrderDate,
		RequestDate:    order.RequestDate,
		Status:         string(order.Status),
		WarehouseID:    order.WarehouseID,
		ShipmentIDs:    order.ShipmentIDs,
		TotalAmount:    order.TotalAmount,
		TotalDiscount:  order.TotalDiscount,
		TotalTax:       order.TotalTax,
		TotalSurcharge: order.TotalSurcharge,
		Notes:          order.Notes,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if resp.ShipmentIDs == nil {
		resp.ShipmentIDs = []int64{}
	}
	resp.Items = make([]orderLineResponse, 0, len(order.Items))
	for _, line := range order.Items {
		resp.Items = append(resp.Items, orderLineResponse{
			ItemID: line.ItemReference,
			Amount: line.Amount,
		})
	}
	return resp
}

// inventoryPutRequest — тело PUT /api/v1/inventories/:item.
type inventoryPutRequest struct {
	Description    string `json:"description"`
	TotalOnHand    int64  `json:"total_on_hand"`
	TotalExpected  int64  `json:"total_expected"`
	TotalOrdered   int64  `json:"total_ordered"`
	TotalAllocated int64  `json:"total_allocated"`
	TotalAvailable int64  `json:"total_available"`
}

// inventoryResponse — представление записи инвентаря в ответах API.
type inventoryResponse struct {
	ItemReference  string    `json:"item_id"`
	Description    string    `json:"description"`
	TotalOnHand    int64     `json:"total_on_hand"`
	TotalExpected  int64     `json:"total_expected"`
	TotalOrdered   int64     `json:"total_ordered"`
	TotalAllocated int64     `json:"total_allocated"`
	TotalAvailable int64     `json:"total_available"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toInventoryResponse(rec domain.InventoryRecord) inventoryResponse {
	return inventoryResponse{
		ItemReference:  rec.ItemReference,
		Description:    rec.Description,
		TotalOnHand:    rec.TotalOnHand,
		TotalExpected:  rec.TotalExpected,
		TotalOrdered:   rec.TotalOrdered,
		TotalAllocated: rec.TotalAllocated,
		TotalAvailable: rec.TotalAvailable,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// timelineEventResponse — событие жизненного цикла заказа в ответе API.
type timelineEventResponse struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

func toTimelineResponse(events []domain.TimelineEvent) []timelineEventResponse {
	result := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		result = append(result, timelineEventResponse{
			OrderID:  event.OrderID,
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return result
}
