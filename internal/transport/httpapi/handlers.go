package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

func (s *Server) handleCreateOrder(c *fiber.Ctx) error {
	return s.withIdempotency(c, "CreateOrder", func() error {
		var req orderCreateRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body"})
		}

		order, err := s.orchestrator.CreateOrder(req.toInput())
		if err != nil {
			return writeError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
	})
}

func (s *Server) handleGetOrder(c *fiber.Ctx) error {
	order, err := s.orders.Get(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toOrderResponse(order))
}

func (s *Server) handleListOrders(c *fiber.Ctx) error {
	warehouseID := strings.TrimSpace(c.Query("warehouse_id"))

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "limit must be a non-negative integer"})
		}
		limit = parsed
	}

	orders, err := s.orders.ListByWarehouse(warehouseID, limit)
	if err != nil {
		return writeError(c, err)
	}

	result := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderResponse(order))
	}
	return c.JSON(result)
}

func (s *Server) handleUpdateOrderStatus(c *fiber.Ctx) error {
	return s.withIdempotency(c, "UpdateOrderStatus", func() error {
		var req statusUpdateRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body"})
		}

		order, err := s.orchestrator.UpdateOrderStatus(c.Params("id"), domain.OrderStatus(req.Status))
		if err != nil {
			return writeError(c, err)
		}

		return c.JSON(toOrderResponse(order))
	})
}

func (s *Server) handleDeleteOrder(c *fiber.Ctx) error {
	return s.withIdempotency(c, "DeleteOrder", func() error {
		if _, err := s.orchestrator.DeleteOrder(c.Params("id")); err != nil {
			return writeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func (s *Server) handleOrderTimeline(c *fiber.Ctx) error {
	orderID := c.Params("id")

	// Подтверждаем существование заказа, иначе отдаём пустой список для любого id.
	if _, err := s.orders.Get(orderID); err != nil {
		return writeError(c, err)
	}

	events, err := s.timeline.List(orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toTimelineResponse(events))
}

func (s *Server) handleGetInventory(c *fiber.Ctx) error {
	rec, err := s.inventory.Get(c.Params("item"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toInventoryResponse(rec))
}

func (s *Server) handlePutInventory(c *fiber.Ctx) error {
	var req inventoryPutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body"})
	}

	rec := domain.InventoryRecord{
		ItemReference:  c.Params("item"),
		Description:    req.Description,
		TotalOnHand:    req.TotalOnHand,
		TotalExpected:  req.TotalExpected,
		TotalOrdered:   req.TotalOrdered,
		TotalAllocated: req.TotalAllocated,
		TotalAvailable: req.TotalAvailable,
	}
	if err := s.inventory.Put(rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error()})
	}

	stored, err := s.inventory.Get(rec.ItemReference)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toInventoryResponse(stored))
}

func (s *Server) handleDeleteInventory(c *fiber.Ctx) error {
	if err := s.inventory.SoftDelete(c.Params("item"), time.Now()); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) logRequestError(c *fiber.Ctx, err error) {
	s.logger.WithError(err).WithFields(log.Fields{
		"method": c.Method(),
		"path":   c.Path(),
	}).Error("request handling failed")
}
