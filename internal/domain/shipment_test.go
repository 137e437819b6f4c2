package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateLink_OutgoingPending(t *testing.T) {
	ref := ShipmentRef{ID: 9102, Status: "Pending", Type: ShipmentTypeOutgoing}
	if err := ValidateLink(ref); err != nil {
		t.Fatalf("expected link to be allowed: %v", err)
	}
}

func TestValidateLink_IncomingRejected(t *testing.T) {
	ref := ShipmentRef{ID: 77, Status: "Pending", Type: ShipmentTypeIncoming}
	err := ValidateLink(ref)
	if err == nil {
		t.Fatal("expected rejection for incoming shipment")
	}
	if !strings.Contains(err.Error(), "cannot link order with an incoming shipment") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestValidateLink_DeliveredRejected(t *testing.T) {
	ref := ShipmentRef{ID: 42, Status: ShipmentStatusDelivered, Type: ShipmentTypeOutgoing}
	err := ValidateLink(ref)
	if err == nil {
		t.Fatal("expected rejection for delivered shipment")
	}
	if !strings.Contains(err.Error(), "cannot link order with Delivered shipment") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

// Входящая доставленная отгрузка: проверка типа срабатывает первой.
func TestValidateLink_IncomingCheckedBeforeDelivered(t *testing.T) {
	ref := ShipmentRef{ID: 7, Status: ShipmentStatusDelivered, Type: ShipmentTypeIncoming}
	err := ValidateLink(ref)

	var linkErr *LinkRejectedError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected LinkRejectedError, got %v", err)
	}
	if linkErr.Reason != LinkReasonIncomingShipment {
		t.Fatalf("incoming check must run first, got reason %q", linkErr.Reason)
	}
}
