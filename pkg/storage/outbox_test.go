package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueTestEntry(t *testing.T, repo *OutboxRepository, key string) string {
	t.Helper()
	id, err := repo.Enqueue(context.Background(), OutboxEntry{
		IdempotencyKey: key,
		UserID:         "user-1",
		Target:         "sap",
		Payload:        json.RawMessage(`{"duration_hours":1.5}`),
	})
	require.NoError(t, err)
	return id
}

func TestOutboxEnqueue(t *testing.T) {
	m, _ := newTestManager(t)
	repo := m.Outbox()
	ctx := context.Background()

	t.Run("generates id and defaults", func(t *testing.T) {
		id, err := repo.Enqueue(ctx, OutboxEntry{
			IdempotencyKey: "key-1", UserID: "user-1", Target: "sap",
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutboxPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.Equal(t, 1, got.Version)
		assert.JSONEq(t, "{}", string(got.Payload))
		assert.Nil(t, got.RetryAfter)
	})

	t.Run("duplicate idempotency key rejected", func(t *testing.T) {
		_, err := repo.Enqueue(ctx, OutboxEntry{
			IdempotencyKey: "key-1", UserID: "user-1", Target: "sap",
		})
		assert.True(t, IsKind(err, KindInvalidInput))
	})

	t.Run("same key for another target allowed", func(t *testing.T) {
		_, err := repo.Enqueue(ctx, OutboxEntry{
			IdempotencyKey: "key-1", UserID: "user-1", Target: "backend",
		})
		assert.NoError(t, err)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		_, err := repo.Enqueue(ctx, OutboxEntry{UserID: "user-1", Target: "sap"})
		assert.True(t, IsKind(err, KindInvalidInput))
		_, err = repo.Enqueue(ctx, OutboxEntry{IdempotencyKey: "k", Target: "sap"})
		assert.True(t, IsKind(err, KindInvalidInput))
		_, err = repo.Enqueue(ctx, OutboxEntry{IdempotencyKey: "k", UserID: "u"})
		assert.True(t, IsKind(err, KindInvalidInput))
	})
}

func TestOutboxDeliveryLifecycle(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Outbox()
	ctx := context.Background()

	id := enqueueTestEntry(t, repo, "lifecycle-key")

	batch, err := repo.DequeueBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, id, batch[0].ID)

	sapID := "sap-entry-99"
	require.NoError(t, repo.MarkSent(ctx, id, &sapID))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxSent, got.Status)
	require.NotNil(t, got.SapEntryID)
	assert.Equal(t, "sap-entry-99", *got.SapEntryID)
	assert.Nil(t, got.RetryAfter)

	// Sent entries never re-dequeue.
	clk.Advance(24 * time.Hour)
	batch, err = repo.DequeueBatch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, batch)

	n, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestOutboxRetryBackoff(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Outbox()
	ctx := context.Background()

	id := enqueueTestEntry(t, repo, "retry-key")

	batch, err := repo.DequeueBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, repo.MarkFailed(ctx, id, "network"))

	// Cooldown: an immediate dequeue returns nothing.
	batch, err = repo.DequeueBatch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, batch)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.RetryAfter)
	assert.Equal(t, clk.MillisSinceEpoch()+60_000, *got.RetryAfter)

	// After the first 60s cooldown the entry is eligible again.
	clk.Advance(61 * time.Second)
	batch, err = repo.DequeueBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// Four more failures exhaust the attempt budget.
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.MarkFailed(ctx, id, "network"))
		clk.Advance(time.Hour)
	}

	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxFailed, got.Status)
	assert.Equal(t, 5, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "network", *got.LastError)
	assert.Nil(t, got.RetryAfter)

	batch, err = repo.DequeueBatch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestOutboxBackoffExponentCap(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Outbox()
	ctx := context.Background()

	id := enqueueTestEntry(t, repo, "cap-key")

	delays := []int64{60, 120, 240, 480}
	for i, want := range delays {
		require.NoError(t, repo.MarkFailed(ctx, id, "timeout"))
		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i+1, got.Attempts)
		require.NotNil(t, got.RetryAfter)
		assert.Equal(t, clk.MillisSinceEpoch()+want*1000, *got.RetryAfter, "attempt %d", i+1)
		clk.Advance(time.Hour)
	}
}

func TestOutboxDequeueOrderAndLimit(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Outbox()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueueTestEntry(t, repo, "fifo-"+string(rune('a'+i))))
		clk.Advance(time.Second)
	}

	batch, err := repo.DequeueBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, ids[0], batch[0].ID)
	assert.Equal(t, ids[1], batch[1].ID)

	_, err = repo.DequeueBatch(ctx, 0)
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestOutboxMarkMissingEntry(t *testing.T) {
	m, _ := newTestManager(t)
	repo := m.Outbox()
	ctx := context.Background()

	assert.True(t, IsKind(repo.MarkSent(ctx, "missing", nil), KindNotFound))
	assert.True(t, IsKind(repo.MarkFailed(ctx, "missing", "x"), KindNotFound))
}
