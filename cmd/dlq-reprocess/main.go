// dlq-reprocess перечитывает wms.dlq и возвращает восстановленные события
// в рабочие топики. По умолчанию работает в режиме dry-run: показывает,
// что будет переотправлено, но ничего не публикует.
//
// В DLQ попадают сообщения двух происхождений:
//   - consumer-путь: обработчик исчерпал ретраи, оригинал сохранён в полях
//     original_topic/original_key/original_value;
//   - outbox-путь: воркер не смог опубликовать событие, в payload конверта
//     лежит DLQ-обёртка с исходным событием заказа или остатка.
//
// Восстановленное событие маршрутизируется по типу: order.* уходит в
// wms.order.events, stock.* — в wms.stock.events. Флаг -target-topic
// перекрывает маршрутизацию, -event-type и -key сужают выборку.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/wms/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

// options собираются из флагов CLI и окружения.
type options struct {
	brokers       []string
	dlqTopic      string
	topicOverride string
	eventFilter   string
	keyFilter     string
	limit         int
	execute       bool
	fromNewest    bool
	idleTimeout   time.Duration
}

// restoredEvent — событие, восстановленное из DLQ и готовое к публикации.
type restoredEvent struct {
	topic     string
	key       string
	eventType string
	value     []byte
}

// failedConsumerRecord — форма DLQ-сообщения от consumer group.
type failedConsumerRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// publisherEnvelope — конверт, в котором outbox-паблишер пишет в Kafka.
type publisherEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// failedOutboxRecord — DLQ-обёртка outbox-воркера внутри payload конверта.
type failedOutboxRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Швы для тестов: боевые реализации — sarama client/consumer/producer.
type offsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type eventSink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type consumerAdapter struct {
	consumer sarama.Consumer
}

func (a consumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a consumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var connectKafka = func(opts options) (offsetReader, partitionSource, eventSink, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := consumerAdapter{consumer: rawConsumer}

	// Producer нужен только в execute-режиме; настройки те же,
	// что у основного сервиса: идемпотентность и acks от всех реплик.
	if !opts.execute {
		return client, source, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(opts.brokers, producerConfig)
	if err != nil {
		_ = source.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := readOptions()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), opts); err != nil {
		fail("dlq reprocess failed: %v", err)
	}
}

func readOptions() (options, error) {
	var (
		brokersRaw string
		opts       options
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: WMS_KAFKA_BROKERS)")
	flag.StringVar(&opts.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	flag.StringVar(&opts.topicOverride, "target-topic", "", "force target topic instead of routing by event type")
	flag.StringVar(&opts.eventFilter, "event-type", "", "replay only events of this type (e.g. order.created)")
	flag.StringVar(&opts.keyFilter, "key", "", "replay only events with this key (order id or item reference)")
	flag.IntVar(&opts.limit, "limit", defaultScanLimit, "max number of DLQ messages to scan")
	flag.BoolVar(&opts.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&opts.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("WMS_KAFKA_BROKERS")
	}

	opts.brokers = splitBrokers(brokersRaw)
	if len(opts.brokers) == 0 {
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or WMS_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(opts.dlqTopic) == "" {
		return options{}, fmt.Errorf("dlq-topic is required")
	}
	if opts.limit <= 0 {
		return options{}, fmt.Errorf("limit must be > 0")
	}
	if opts.idleTimeout <= 0 {
		return options{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return opts, nil
}

func splitBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, opts options) error {
	client, source, sink, err := connectKafka(opts)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		if source != nil {
			_ = source.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	r := &replayer{
		opts:    opts,
		offsets: client,
		source:  source,
		sink:    sink,
		logger:  log.WithField("component", "dlq-reprocess"),
	}
	return r.run(ctx)
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

// replayer сканирует партиции DLQ и переотправляет восстановленные события.
type replayer struct {
	opts    options
	offsets offsetReader
	source  partitionSource
	sink    eventSink
	logger  *log.Entry
	stats   replayStats
}

func (r *replayer) run(ctx context.Context) error {
	if r.offsets == nil || r.source == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if r.opts.execute && r.sink == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	r.logger.WithFields(log.Fields{
		"dlq_topic":   r.opts.dlqTopic,
		"limit":       r.opts.limit,
		"execute":     r.opts.execute,
		"from_newest": r.opts.fromNewest,
		"event_type":  r.opts.eventFilter,
	}).Info("starting dlq reprocess")

	partitions, err := r.offsets.Partitions(r.opts.dlqTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.opts.dlqTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.opts.dlqTopic).Warn("dlq topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if r.stats.scanned >= r.opts.limit {
			break
		}
		if err := r.scanPartition(ctx, partition, r.opts.limit-r.stats.scanned); err != nil {
			return err
		}
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  r.stats.scanned,
		"replayed": r.stats.replayed,
		"skipped":  r.stats.skipped,
	}).Info("dlq reprocess finished")

	return nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) error {
	if budget <= 0 {
		return nil
	}

	oldest, err := r.offsets.GetOffset(r.opts.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.opts.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	start := oldest
	if r.opts.fromNewest {
		start = newest - int64(budget)
		if start < oldest {
			start = oldest
		}
	}

	reader, err := r.source.ConsumePartition(r.opts.dlqTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	// Партиция читается до newest на момент старта: всё, что упало в DLQ
	// во время самого прогона, остаётся до следующего запуска.
	end := newest
	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for scanned := 0; scanned < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-reader.Errors():
			if err != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil {
				return nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.idleTimeout)

			if msg.Offset >= end {
				return nil
			}

			scanned++
			if err := r.handle(msg); err != nil {
				return err
			}

			if msg.Offset+1 >= end {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}

	return nil
}

// handle восстанавливает событие и либо публикует его, либо печатает кандидата.
func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	r.stats.scanned++

	event, ok, err := restoreEvent(msg, r.opts.topicOverride)
	if err != nil {
		r.stats.skipped++
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unreadable dlq message")
		return nil
	}
	if !ok || !r.matches(event) {
		r.stats.skipped++
		return nil
	}

	if r.opts.execute {
		if err := r.publish(event); err != nil {
			return fmt.Errorf("publish restored event: %w", err)
		}
		r.stats.replayed++
		return nil
	}

	r.logger.WithFields(log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": event.topic,
		"event_type":   event.eventType,
		"key":          event.key,
	}).Info("dlq replay candidate")
	r.stats.replayed++
	return nil
}

// matches применяет фильтры -event-type и -key.
func (r *replayer) matches(event restoredEvent) bool {
	if r.opts.eventFilter != "" && event.eventType != r.opts.eventFilter {
		return false
	}
	if r.opts.keyFilter != "" && event.key != r.opts.keyFilter {
		return false
	}
	return true
}

func (r *replayer) publish(event restoredEvent) error {
	if r.sink == nil {
		return fmt.Errorf("producer is nil")
	}
	msg := &sarama.ProducerMessage{
		Topic:     event.topic,
		Key:       sarama.StringEncoder(event.key),
		Value:     sarama.ByteEncoder(event.value),
		Timestamp: time.Now().UTC(),
	}
	_, _, err := r.sink.SendMessage(msg)
	return err
}

// restoreEvent разбирает DLQ-сообщение любой из двух форм.
func restoreEvent(msg *sarama.ConsumerMessage, topicOverride string) (restoredEvent, bool, error) {
	// Consumer-путь: оригинал сохранён как есть, включая исходный топик.
	var record failedConsumerRecord
	if err := json.Unmarshal(msg.Value, &record); err == nil && record.OriginalValue != "" {
		value := []byte(record.OriginalValue)
		eventType := peekEventType(value)
		topic := strings.TrimSpace(record.OriginalTopic)
		if topicOverride != "" {
			topic = topicOverride
		} else if topic == "" {
			topic = routeByEventType(eventType, "")
		}
		return restoredEvent{
			topic:     topic,
			key:       record.OriginalKey,
			eventType: eventType,
			value:     value,
		}, true, nil
	}

	// Outbox-путь: конверт паблишера, внутри — DLQ-обёртка воркера.
	var envelope publisherEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return restoredEvent{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return restoredEvent{}, false, nil
	}

	var failed failedOutboxRecord
	if err := json.Unmarshal(envelope.Payload, &failed); err != nil {
		return restoredEvent{}, false, fmt.Errorf("decode outbox dlq record: %w", err)
	}
	if len(failed.Payload) == 0 {
		return restoredEvent{}, false, fmt.Errorf("outbox dlq record has no original event payload")
	}

	restored := publisherEnvelope{
		ID:            firstNonEmpty(failed.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(failed.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(failed.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(failed.EventType, envelope.EventType),
		Payload:       failed.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return restoredEvent{}, false, fmt.Errorf("encode restored envelope: %w", err)
	}

	key := restored.AggregateID
	if key == "" {
		key = restored.ID
	}

	eventType := peekEventType(failed.Payload)
	if eventType == "" {
		eventType = restored.EventType
	}

	topic := topicOverride
	if topic == "" {
		topic = routeByEventType(eventType, restored.AggregateType)
	}

	return restoredEvent{
		topic:     topic,
		key:       key,
		eventType: eventType,
		value:     value,
	}, true, nil
}

// routeByEventType выбирает рабочий топик для восстановленного события.
// Складские движения уходят в stock-топик, всё остальное — в order-топик.
func routeByEventType(eventType, aggregateType string) string {
	if strings.HasPrefix(eventType, "stock.") || strings.EqualFold(aggregateType, "stock") {
		return kafka.TopicStockEvents
	}
	return kafka.TopicOrderEvents
}

// peekEventType достаёт event_type, не разбирая событие целиком.
func peekEventType(value []byte) string {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return ""
	}
	return probe.EventType
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
