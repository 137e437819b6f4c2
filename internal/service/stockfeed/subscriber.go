package stockfeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/messaging/kafka"
)

// Subscriber применяет входящие корректировки остатка к складскому леджеру.
// Источник — топик приёмки/инвентаризации: внешние системы (сканеры дока,
// циклический пересчёт) публикуют StockEvent, а сервис проводит дельты.
type Subscriber struct {
	inventory domain.InventoryRepository
	logger    *log.Entry
}

// Option настраивает Subscriber.
type Option func(*Subscriber)

// WithLogger задаёт логгер подписчика.
func WithLogger(logger *log.Entry) Option {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubscriber создаёт обработчик входящих складских корректировок.
func NewSubscriber(inventory domain.InventoryRepository, opts ...Option) *Subscriber {
	s := &Subscriber{
		inventory: inventory,
		logger:    log.WithField("component", "stock-feed"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle разбирает сообщение и проводит корректировку.
// Ошибка возвращается наружу: consumer сам решает, ретраить или отправлять в DLQ.
func (s *Subscriber) Handle(_ context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseStockEvent(message)
	if err != nil {
		return err
	}
	if event.ItemReference == "" {
		return fmt.Errorf("stock event without item reference")
	}

	var record domain.InventoryRecord
	switch event.EventType {
	case kafka.EventTypeStockReceived:
		// Приёмка: товар переезжает из ожидаемого в наличный.
		if event.Amount <= 0 {
			return fmt.Errorf("stock.received amount must be positive, got %d", event.Amount)
		}
		record, err = s.inventory.Adjust(event.ItemReference, event.Amount, -event.Amount, 0, 0)
	case kafka.EventTypeStockCorrected:
		// Пересчёт: знак дельты задаёт направление поправки наличного остатка.
		if event.Amount == 0 {
			return fmt.Errorf("stock.corrected amount must be non-zero")
		}
		record, err = s.inventory.Adjust(event.ItemReference, event.Amount, 0, 0, 0)
	default:
		return fmt.Errorf("unsupported stock feed event type %q", event.EventType)
	}

	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			return fmt.Errorf("stock feed for unknown item %s: %w", event.ItemReference, err)
		}
		return err
	}

	s.logger.WithFields(log.Fields{
		"item_reference":  record.ItemReference,
		"event_type":      event.EventType,
		"amount":          event.Amount,
		"total_on_hand":   record.TotalOnHand,
		"total_available": record.TotalAvailable,
	}).Info("stock adjustment applied")

	return nil
}

var _ kafka.MessageHandler = (&Subscriber{}).Handle
