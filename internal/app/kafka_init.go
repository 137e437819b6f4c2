package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/messaging/kafka"
)

// initKafkaProducer подключает producer к брокерам из конфигурации.
// Пустой список брокеров выключает Kafka целиком: сервис работает без событий.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}
	brokerList := strings.Split(brokers, ",")

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}
	logger.WithField("brokers", brokerList).Info("kafka producer initialized")

	return producer, nil
}

// initStockFeedConsumer подписывает обработчик приёмки на топик корректировок.
// Producer переиспользуется как DLQ-выход для неразбираемых сообщений.
func initStockFeedConsumer(ctx context.Context, cfg Config, handler kafka.MessageHandler, dlqProducer *kafka.Producer, logger *log.Entry) *kafka.Consumer {
	consumer, err := kafka.NewConsumerWithDLQ(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicStockAdjustments},
		handler,
		dlqProducer,
		3,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create stock feed consumer, continuing without it")
		return nil
	}

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start stock feed consumer")
		return nil
	}

	return consumer
}

// stopConsumer останавливает consumer если он не nil.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop stock feed consumer")
	}
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
