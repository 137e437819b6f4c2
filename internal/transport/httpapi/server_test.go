package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/wms/internal/storage/memory"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	store.SeedInventory(domain.InventoryRecord{
		ItemReference:  "P000001",
		Description:    "Face exposing reflect attention",
		TotalOnHand:    100,
		TotalOrdered:   20,
		TotalAllocated: 75,
		TotalAvailable: 5,
	})
	store.SeedShipment(domain.ShipmentRef{ID: 100, Status: "Pending", Type: domain.ShipmentTypeOutgoing})
	store.SeedShipment(domain.ShipmentRef{ID: 101, Status: "Pending", Type: domain.ShipmentTypeIncoming})
	store.SeedShipment(domain.ShipmentRef{ID: 102, Status: domain.ShipmentStatusDelivered, Type: domain.ShipmentTypeOutgoing})

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "http-api-test")

	orders := memory.NewOrderRepository(store)
	inventory := memory.NewInventoryRepository(store)
	orch := fulfillment.NewOrchestratorWithoutMetrics(
		orders,
		inventory,
		memory.NewShipmentReader(store),
		memory.NewOutboxRepository(),
		memory.NewTimelineRepository(),
		entry,
	)

	server := NewServer(ServerOptions{
		Orchestrator: orch,
		Orders:       orders,
		Inventory:    inventory,
		Timeline:     memory.NewTimelineRepository(),
		Idempotency:  memory.NewIdempotencyRepository(),
		APIKey:       testAPIKey,
		Logger:       entry,
	})
	return server, store
}

func doRequest(t *testing.T, server *Server, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func orderPayload(reference string) map[string]any {
	return map[string]any{
		"source_id":    33,
		"order_date":   "2026-08-01T10:00:00Z",
		"request_date": "2026-08-05T10:00:00Z",
		"reference":    reference,
		"warehouse_id": "WH-018",
		"items": []map[string]any{
			{"item_id": "P000001", "amount": 1},
		},
		"total_amount": "9905.13",
	}
}

func TestServer_CreateOrder(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created orderResponse
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ORD00001", created.Reference)
	assert.Equal(t, "Pending", created.Status)

	inv := doRequest(t, server, http.MethodGet, "/api/v1/inventories/P000001", nil, nil)
	require.Equal(t, http.StatusOK, inv.StatusCode)

	var rec inventoryResponse
	decodeBody(t, inv, &rec)
	assert.Equal(t, int64(4), rec.TotalAvailable)
	assert.Equal(t, int64(21), rec.TotalOrdered)
}

func TestServer_CreateOrder_InsufficientStock(t *testing.T) {
	server, _ := newTestServer(t)

	payload := orderPayload("ORD00001")
	payload["items"] = []map[string]any{{"item_id": "P000001", "amount": 6}}

	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", payload, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "only 5 available")
}

func TestServer_CreateOrder_ShipmentLinkRejected(t *testing.T) {
	server, _ := newTestServer(t)

	incoming := orderPayload("ORD00001")
	incoming["shipment_id"] = []int64{101}
	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", incoming, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "cannot link order with an incoming shipment")

	delivered := orderPayload("ORD00002")
	delivered["shipment_id"] = []int64{102}
	resp = doRequest(t, server, http.MethodPost, "/api/v1/orders", delivered, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "cannot link order with Delivered shipment")
}

func TestServer_CreateOrder_ValidationError(t *testing.T) {
	server, _ := newTestServer(t)

	payload := orderPayload("bad-reference")
	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", payload, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UpdateOrderStatus(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created orderResponse
	decodeBody(t, resp, &created)

	for _, status := range []string{"Packed", "Shipped", "Delivered"} {
		resp = doRequest(t, server, http.MethodPut, "/api/v1/orders/"+created.ID+"/status",
			map[string]any{"status": status}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var updated orderResponse
		decodeBody(t, resp, &updated)
		assert.Equal(t, status, updated.Status)
	}

	// Delivered терминален.
	resp = doRequest(t, server, http.MethodPut, "/api/v1/orders/"+created.ID+"/status",
		map[string]any{"status": "Pending"}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Contains(t, body.Error, "Unable to change order status back from Delivered")
}

func TestServer_UpdateOrderStatus_UnknownStatus(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created orderResponse
	decodeBody(t, resp, &created)

	resp = doRequest(t, server, http.MethodPut, "/api/v1/orders/"+created.ID+"/status",
		map[string]any{"status": "Teleported"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_GetOrder_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodGet, "/api/v1/orders/missing-id", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListOrders(t *testing.T) {
	server, _ := newTestServer(t)

	for i := 1; i <= 3; i++ {
		resp := doRequest(t, server, http.MethodPost, "/api/v1/orders",
			orderPayload(fmt.Sprintf("ORD0000%d", i)), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := doRequest(t, server, http.MethodGet, "/api/v1/orders?warehouse_id=WH-018&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var orders []orderResponse
	decodeBody(t, resp, &orders)
	assert.Len(t, orders, 2)

	resp = doRequest(t, server, http.MethodGet, "/api/v1/orders?limit=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_DeleteOrder_ReleasesStock(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created orderResponse
	decodeBody(t, resp, &created)

	resp = doRequest(t, server, http.MethodDelete, "/api/v1/orders/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, server, http.MethodGet, "/api/v1/orders/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	inv := doRequest(t, server, http.MethodGet, "/api/v1/inventories/P000001", nil, nil)
	var rec inventoryResponse
	decodeBody(t, inv, &rec)
	assert.Equal(t, int64(5), rec.TotalAvailable)
}

func TestServer_APIKeyRequired(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_IdempotentCreateReplays(t *testing.T) {
	server, _ := newTestServer(t)

	headers := map[string]string{"Idempotency-Key": "create-ord-1"}

	first := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	var created orderResponse
	decodeBody(t, first, &created)

	// Повтор с тем же ключом и телом воспроизводит ответ без второго резерва.
	second := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), headers)
	require.Equal(t, http.StatusCreated, second.StatusCode)
	var replayed orderResponse
	decodeBody(t, second, &replayed)
	assert.Equal(t, created.ID, replayed.ID)

	inv := doRequest(t, server, http.MethodGet, "/api/v1/inventories/P000001", nil, nil)
	var rec inventoryResponse
	decodeBody(t, inv, &rec)
	assert.Equal(t, int64(4), rec.TotalAvailable)

	// Тот же ключ с другим телом отклоняется.
	conflict := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00002"), headers)
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)
}

func TestServer_IdempotencyKeyBoundToResource(t *testing.T) {
	server, _ := newTestServer(t)

	first := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00001"), nil)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	var orderA orderResponse
	decodeBody(t, first, &orderA)

	second := doRequest(t, server, http.MethodPost, "/api/v1/orders", orderPayload("ORD00002"), nil)
	require.Equal(t, http.StatusCreated, second.StatusCode)
	var orderB orderResponse
	decodeBody(t, second, &orderB)

	headers := map[string]string{"Idempotency-Key": "pack-1"}
	statusBody := map[string]any{"status": "Packed"}

	resp := doRequest(t, server, http.MethodPut, "/api/v1/orders/"+orderA.ID+"/status", statusBody, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Тот же ключ и то же тело против другого заказа — конфликт, а не replay
	// чужого ответа.
	resp = doRequest(t, server, http.MethodPut, "/api/v1/orders/"+orderB.ID+"/status", statusBody, headers)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, server, http.MethodGet, "/api/v1/orders/"+orderB.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var untouched orderResponse
	decodeBody(t, resp, &untouched)
	assert.Equal(t, "Pending", untouched.Status)
}

func TestServer_InventoryPutAndDelete(t *testing.T) {
	server, _ := newTestServer(t)

	put := doRequest(t, server, http.MethodPut, "/api/v1/inventories/P000009", map[string]any{
		"description":     "Amount switch success",
		"total_on_hand":   10,
		"total_available": 10,
	}, nil)
	require.Equal(t, http.StatusOK, put.StatusCode)

	var rec inventoryResponse
	decodeBody(t, put, &rec)
	assert.Equal(t, int64(10), rec.TotalAvailable)

	del := doRequest(t, server, http.MethodDelete, "/api/v1/inventories/P000009", nil, nil)
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	get := doRequest(t, server, http.MethodGet, "/api/v1/inventories/P000009", nil, nil)
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestServer_InventoryPut_FormulaBroken(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, http.MethodPut, "/api/v1/inventories/P000010", map[string]any{
		"total_on_hand":   10,
		"total_available": 3,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
