package stockfeed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wms/internal/domain"
	"github.com/vladislavdragonenkov/wms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/wms/internal/storage/memory"
)

func newFeedFixture(t *testing.T) (*Subscriber, domain.InventoryRepository) {
	t.Helper()

	store := memory.NewStore()
	store.SeedInventory(domain.InventoryRecord{
		ItemReference:  "P000777",
		Description:    "Паллета стрейч-плёнки",
		TotalOnHand:    20,
		TotalExpected:  50,
		TotalAllocated: 5,
	})

	inventory := memory.NewInventoryRepository(store)
	return NewSubscriber(inventory), inventory
}

func stockMessage(t *testing.T, eventType kafka.EventType, item string, amount int64) *sarama.ConsumerMessage {
	t.Helper()

	payload, err := json.Marshal(kafka.NewStockEvent(eventType, "", item, amount))
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic: kafka.TopicStockAdjustments,
		Key:   []byte(item),
		Value: payload,
	}
}

func TestSubscriber_ReceivedMovesExpectedToOnHand(t *testing.T) {
	subscriber, inventory := newFeedFixture(t)

	err := subscriber.Handle(context.Background(), stockMessage(t, kafka.EventTypeStockReceived, "P000777", 30))
	require.NoError(t, err)

	record, err := inventory.Get("P000777")
	require.NoError(t, err)
	assert.Equal(t, int64(50), record.TotalOnHand)
	assert.Equal(t, int64(20), record.TotalExpected)
	assert.Equal(t, int64(45), record.TotalAvailable)
}

func TestSubscriber_CorrectedAppliesSignedDelta(t *testing.T) {
	subscriber, inventory := newFeedFixture(t)

	err := subscriber.Handle(context.Background(), stockMessage(t, kafka.EventTypeStockCorrected, "P000777", -4))
	require.NoError(t, err)

	record, err := inventory.Get("P000777")
	require.NoError(t, err)
	assert.Equal(t, int64(16), record.TotalOnHand)
	assert.Equal(t, int64(50), record.TotalExpected)
}

func TestSubscriber_RejectsInvalidEvents(t *testing.T) {
	subscriber, _ := newFeedFixture(t)
	ctx := context.Background()

	cases := map[string]*sarama.ConsumerMessage{
		"malformed json":         {Value: []byte("{")},
		"missing item reference": stockMessage(t, kafka.EventTypeStockReceived, "", 10),
		"non-positive received":  stockMessage(t, kafka.EventTypeStockReceived, "P000777", 0),
		"zero correction":        stockMessage(t, kafka.EventTypeStockCorrected, "P000777", 0),
		"unsupported event type": stockMessage(t, kafka.EventTypeStockReserved, "P000777", 3),
	}

	for name, message := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, subscriber.Handle(ctx, message))
		})
	}
}

func TestSubscriber_UnknownItem(t *testing.T) {
	subscriber, _ := newFeedFixture(t)

	err := subscriber.Handle(context.Background(), stockMessage(t, kafka.EventTypeStockReceived, "P999999", 10))
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}
