package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/service/fulfillment"
)

// ServerOptions задаёт зависимости HTTP API.
type ServerOptions struct {
	Orchestrator fulfillment.Orchestrator
	Orders       domain.OrderRepository
	Inventory    domain.InventoryRepository
	Timeline     domain.TimelineRepository
	Idempotency  domain.IdempotencyRepository
	APIKey       string
	Logger       *log.Entry
}

// Server — HTTP API сервиса фулфилмента поверх fiber.
type Server struct {
	app          *fiber.App
	orchestrator fulfillment.Orchestrator
	orders       domain.OrderRepository
	inventory    domain.InventoryRepository
	timeline     domain.TimelineRepository
	idemRepo     domain.IdempotencyRepository
	logger       *log.Entry
}

// NewServer создаёт сервер и регистрирует маршруты под /api/v1.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New().WithField("component", "http-api")
	}

	s := &Server{
		orchestrator: opts.Orchestrator,
		orders:       opts.Orders,
		inventory:    opts.Inventory,
		timeline:     opts.Timeline,
		idemRepo:     opts.Idempotency,
		logger:       opts.Logger,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			s.logRequestError(c, err)
			return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal server error"})
		},
	})
	app.Use(logger.New())
	app.Use(recover.New())

	api := app.Group("/api/v1", APIKeyMiddleware(opts.APIKey))

	api.Post("/orders", s.handleCreateOrder)
	api.Get("/orders", s.handleListOrders)
	api.Get("/orders/:id", s.handleGetOrder)
	api.Put("/orders/:id/status", s.handleUpdateOrderStatus)
	api.Delete("/orders/:id", s.handleDeleteOrder)
	api.Get("/orders/:id/timeline", s.handleOrderTimeline)

	api.Get("/inventories/:item", s.handleGetInventory)
	api.Put("/inventories/:item", s.handlePutInventory)
	api.Delete("/inventories/:item", s.handleDeleteInventory)

	s.app = app
	return s
}

// App возвращает fiber-приложение (используется в тестах через app.Test).
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen блокируется до остановки сервера.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown мягко останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
