package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
)

// withIdempotency оборачивает handler записью в idempotency-хранилище.
// Заголовок Idempotency-Key опционален: без него запрос обрабатывается напрямую.
// Повтор с тем же ключом и телом воспроизводит сохранённый ответ; повтор с
// другим телом отклоняется.
func (s *Server) withIdempotency(c *fiber.Ctx, method string, handler func() error) error {
	if s.idemRepo == nil {
		return handler()
	}

	idemKey := strings.TrimSpace(c.Get(idempotencyKeyHeader))
	if idemKey == "" {
		return handler()
	}

	reqHash := buildRequestHash(method, c.Path(), c.Body())

	record, err := s.idemRepo.CreateProcessing(idemKey, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return s.replayIdempotency(c, err, record)
	}

	if err := handler(); err != nil {
		// Ошибки до записи ответа (паники fiber и т.п.) — ключ освобождаем как failed.
		s.markIdempotency(idemKey, nil, fiber.StatusInternalServerError, false)
		return err
	}

	status := c.Response().StatusCode()
	body := append([]byte(nil), c.Response().Body()...)
	s.markIdempotency(idemKey, body, status, status < fiber.StatusBadRequest)

	return nil
}

func (s *Server) markIdempotency(key string, body []byte, status int, ok bool) {
	var err error
	if ok {
		err = s.idemRepo.MarkDone(key, body, status)
	} else {
		err = s.idemRepo.MarkFailed(key, body, status)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency response")
	}
}

func (s *Server) replayIdempotency(c *fiber.Ctx, createErr error, record domain.IdempotencyRecord) error {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return c.Status(fiber.StatusConflict).JSON(errorBody{
			Error: "idempotency key is already used with different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusProcessing:
			return c.Status(fiber.StatusConflict).JSON(errorBody{
				Error: "request with the same idempotency key is already processing",
			})
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			return replayStoredResponse(c, record)
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(errorBody{
				Error: "unknown idempotency record status",
			})
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{
			Error: "failed to initialize idempotency request",
		})
	}
}

func replayStoredResponse(c *fiber.Ctx, record domain.IdempotencyRecord) error {
	status := record.HTTPStatus
	if status == 0 {
		status = fiber.StatusInternalServerError
	}
	if len(record.ResponseBody) == 0 {
		return c.Status(status).JSON(errorBody{
			Error: "previous request with the same idempotency key failed",
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(record.ResponseBody)
}

// buildRequestHash включает путь запроса: один и тот же ключ с тем же телом,
// но против другого ресурса — это конфликт, а не повтор.
func buildRequestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+2+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
