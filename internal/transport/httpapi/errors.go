package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/service/fulfillment"
)

// errorBody — единый формат ошибок API.
type errorBody struct {
	Error string `json:"error"`
}

// statusForError отображает доменные ошибки на HTTP-коды:
// нехватка остатка и отказ привязки отгрузки — конфликт состояния (409),
// запрещённый переход статуса — 403, отсутствие сущности — 404,
// нарушенные инварианты запроса — 400.
func statusForError(err error) int {
	switch {
	case fulfillment.IsValidation(err),
		errors.Is(err, domain.ErrStatusUnknown),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return fiber.StatusBadRequest
	case domain.IsInvalidTransition(err):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrShipmentNotFound):
		return fiber.StatusNotFound
	case domain.IsInsufficientStock(err),
		domain.IsLinkRejected(err),
		errors.Is(err, domain.ErrOrderExists),
		errors.Is(err, domain.ErrIdempotencyHashMismatch),
		domain.IsVersionConflict(err):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	body := errorBody{Error: err.Error()}
	if status == fiber.StatusInternalServerError {
		// Внутренние детали наружу не отдаём.
		body.Error = "internal server error"
	}
	return c.Status(status).JSON(body)
}
