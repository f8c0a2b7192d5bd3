package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchLeaseLifecycle(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Batches()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, BatchRecord{BatchID: "b1", ActivityCount: 20}))

	t.Run("insert defaults to pending", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, BatchPending, got.Status)
		assert.Equal(t, clk.Now().Unix(), got.CreatedAt)
		assert.Nil(t, got.WorkerID)
	})

	t.Run("acquire moves to processing", func(t *testing.T) {
		require.NoError(t, repo.AcquireLease(ctx, "b1", "worker-a", 300))

		got, err := repo.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, BatchProcessing, got.Status)
		require.NotNil(t, got.WorkerID)
		assert.Equal(t, "worker-a", *got.WorkerID)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.Equal(t, clk.Now().Unix()+300, *got.LeaseExpiresAt)
		require.NotNil(t, got.ProcessingStartedAt)
	})

	t.Run("second acquire fails while leased", func(t *testing.T) {
		err := repo.AcquireLease(ctx, "b1", "worker-b", 300)
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("only the holder renews", func(t *testing.T) {
		err := repo.RenewLease(ctx, "b1", "worker-b", 300)
		assert.True(t, IsKind(err, KindNotFound))

		clk.Advance(100 * time.Second)
		require.NoError(t, repo.RenewLease(ctx, "b1", "worker-a", 300))

		got, err := repo.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, clk.Now().Unix()+300, *got.LeaseExpiresAt)
	})

	t.Run("complete records outcome", func(t *testing.T) {
		require.NoError(t, repo.Complete(ctx, "b1", 3, 0.021))

		got, err := repo.GetByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, BatchCompleted, got.Status)
		assert.Equal(t, 3, got.TimeEntriesCreated)
		assert.InDelta(t, 0.021, got.OpenAICost, 1e-9)
		require.NotNil(t, got.ProcessedAt)
	})
}

func TestBatchStaleLeaseRecovery(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Batches()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, BatchRecord{BatchID: "stale", ActivityCount: 10}))
	require.NoError(t, repo.Insert(ctx, BatchRecord{BatchID: "fresh", ActivityCount: 10}))

	require.NoError(t, repo.AcquireLease(ctx, "stale", "worker-a", 60))
	clk.Advance(120 * time.Second)
	require.NoError(t, repo.AcquireLease(ctx, "fresh", "worker-b", 600))

	stale, err := repo.StaleLeases(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].BatchID)

	recovered, err := repo.RecoverStaleLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, recovered)

	got, err := repo.GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, BatchPending, got.Status)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.LeaseExpiresAt)
	assert.Nil(t, got.ProcessingStartedAt)

	// A recovered batch can be re-acquired by any worker.
	require.NoError(t, repo.AcquireLease(ctx, "stale", "worker-c", 60))

	// The in-lease batch was untouched.
	got, err = repo.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, BatchProcessing, got.Status)
}

func TestBatchFailureAndStats(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Batches()
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "w1", "c1", "f1"} {
		require.NoError(t, repo.Insert(ctx, BatchRecord{BatchID: id, ActivityCount: 1}))
	}
	require.NoError(t, repo.AcquireLease(ctx, "w1", "worker-a", 300))
	require.NoError(t, repo.AcquireLease(ctx, "c1", "worker-a", 300))
	require.NoError(t, repo.Complete(ctx, "c1", 1, 0))
	require.NoError(t, repo.MarkFailed(ctx, "f1", "openai unavailable"))

	t.Run("mark failed records reason", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, BatchFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "openai unavailable", *got.ErrorMessage)
	})

	t.Run("stats counts per status", func(t *testing.T) {
		s, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, BatchStats{Pending: 2, Processing: 1, Completed: 1, Failed: 1}, s)
	})

	t.Run("get by status oldest first", func(t *testing.T) {
		got, err := repo.GetByStatus(ctx, BatchPending)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p1", got[0].BatchID)
	})

	t.Run("cleanup removes only old terminal batches", func(t *testing.T) {
		clk.Advance(time.Hour)
		n, err := repo.CleanupOld(ctx, clk.Now().Unix())
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		s, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, BatchStats{Pending: 2, Processing: 1}, s)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "p1"))
		assert.True(t, IsKind(repo.Delete(ctx, "p1"), KindNotFound))
	})
}

func TestBatchValidation(t *testing.T) {
	m, _ := newTestManager(t)
	repo := m.Batches()
	ctx := context.Background()

	assert.True(t, IsKind(repo.Insert(ctx, BatchRecord{}), KindInvalidInput))
	assert.True(t, IsKind(repo.AcquireLease(ctx, "x", "", 60), KindInvalidInput))
	assert.True(t, IsKind(repo.AcquireLease(ctx, "x", "w", 0), KindInvalidInput))
	assert.True(t, IsKind(repo.RenewLease(ctx, "x", "w", -1), KindInvalidInput))
	assert.True(t, IsKind(repo.AcquireLease(ctx, "missing", "w", 60), KindNotFound))
}
