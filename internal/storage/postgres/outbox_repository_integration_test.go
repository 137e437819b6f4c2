package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

func TestOutboxRepository_PostgresEnqueueAndDrain(t *testing.T) {
	repo := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))

	orderMsg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "ORD00021",
		EventType:     "OrderCreated",
		Payload:       []byte(`{"reference":"ORD00021","warehouse_id":"WH-003"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, orderMsg.ID, "enqueue should assign an id")

	stockMsg, err := repo.Enqueue(domain.OutboxMessage{
		ID:            "00000000-0000-4000-8000-0000000000aa",
		AggregateType: "stock",
		AggregateID:   "P000123",
		EventType:     "stock.reserved",
		Payload:       []byte(`{"item_reference":"P000123","amount":2}`),
	})
	require.NoError(t, err)
	require.Equal(t, "00000000-0000-4000-8000-0000000000aa", stockMsg.ID)

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, orderMsg.ID, pending[0].ID, "older message comes first")

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(orderMsg.ID))
	require.NoError(t, repo.MarkFailed(stockMsg.ID))

	after, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, after, "sent and failed messages leave the backlog")

	stats, err = repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresPullRespectsLimit(t *testing.T) {
	repo := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))

	for _, ref := range []string{"ORD00031", "ORD00032", "ORD00033"} {
		_, err := repo.Enqueue(domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   ref,
			EventType:     "OrderCreated",
			Payload:       []byte(`{"reference":"` + ref + `"}`),
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	batch, err := repo.PullPending(2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "ORD00031", batch[0].AggregateID)
	require.Equal(t, "ORD00032", batch[1].AggregateID)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, stats.PendingCount, "pull does not consume messages")
}

func TestOutboxRepository_PostgresTransitionMissingMessage(t *testing.T) {
	repo := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))

	const missingID = "00000000-0000-4000-8000-0000000000ff"
	require.ErrorIs(t, repo.MarkSent(missingID), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed(missingID), domain.ErrOutboxPublish)
}
