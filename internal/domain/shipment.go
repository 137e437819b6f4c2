package domain

// ShipmentType различает входящие и исходящие отгрузки.
type ShipmentType string

const (
	// ShipmentTypeIncoming — отгрузка с поставкой товара на склад.
	ShipmentTypeIncoming ShipmentType = "I"
	// ShipmentTypeOutgoing — отгрузка клиенту.
	ShipmentTypeOutgoing ShipmentType = "O"
)

// ShipmentStatusDelivered — терминальный статус отгрузки, с которым нельзя связать заказ.
const ShipmentStatusDelivered = "Delivered"

// ShipmentRef — read-only представление отгрузки, владеет которой внешняя система.
// Сервис фулфилмента её не мутирует, только проверяет пригодность для привязки.
type ShipmentRef struct {
	ID     int64
	Status string
	Type   ShipmentType
}

// ValidateLink проверяет, может ли заказ ссылаться на отгрузку.
// Порядок проверок фиксирован: сначала тип, затем статус.
func ValidateLink(ref ShipmentRef) error {
	if ref.Type == ShipmentTypeIncoming {
		return &LinkRejectedError{ShipmentID: ref.ID, Reason: LinkReasonIncomingShipment}
	}
	if ref.Status == ShipmentStatusDelivered {
		return &LinkRejectedError{ShipmentID: ref.ID, Reason: LinkReasonDeliveredShipment}
	}
	return nil
}
