package syncqueue

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func persistedQueue(t *testing.T, mutate func(*Config)) (Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.snapshot")
	cfg := DefaultConfig()
	cfg.PersistencePath = path
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := New(cfg, newTestClock(), nil)
	require.NoError(t, err)
	return q, path
}

func TestPersistRoundTrip(t *testing.T) {
	variants := []struct {
		name   string
		mutate func(*Config)
	}{
		{"plain", func(c *Config) { c.EnableCompression = false }},
		{"compressed", func(c *Config) { c.EnableCompression = true; c.CompressionLevel = 6 }},
		{"encrypted", func(c *Config) {
			c.EnableCompression = false
			c.EnableEncryption = true
			c.EncryptionKey = testKey
		}},
		{"compressed and encrypted", func(c *Config) {
			c.EnableCompression = true
			c.CompressionLevel = 9
			c.EnableEncryption = true
			c.EncryptionKey = testKey
		}},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			q, path := persistedQueue(t, v.mutate)

			require.NoError(t, q.Push(item("a", 5)))
			require.NoError(t, q.Push(item("b", 1)))
			require.NoError(t, q.Persist())

			_, err := os.Stat(path)
			require.NoError(t, err)

			// Reload into a fresh queue sharing the same snapshot file.
			q2, err := New(q.inner.cfg, newTestClock(), nil)
			require.NoError(t, err)
			loaded, err := q2.Load()
			require.NoError(t, err)
			assert.Equal(t, 2, loaded)

			got, ok, err := q2.Pop()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a", got.ID)
		})
	}
}

func TestPersistenceLoadMissingFile(t *testing.T) {
	q, _ := persistedQueue(t, nil)
	loaded, err := q.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)
}

func TestPersistenceEncryptedBlobIsOpaque(t *testing.T) {
	q, path := persistedQueue(t, func(c *Config) {
		c.EnableCompression = false
		c.EnableEncryption = true
		c.EncryptionKey = testKey
	})

	require.NoError(t, q.Push(item("secret-id", 1)))
	require.NoError(t, q.Persist())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-id")

	// The wrong key must fail authentication.
	cfg := q.inner.cfg
	cfg.EncryptionKey = bytes.Repeat([]byte{0x01}, 32)
	q2, err := New(cfg, newTestClock(), nil)
	require.NoError(t, err)
	_, err = q2.Load()
	assert.Error(t, err)
}

func TestPersistenceLoadNormalizesProcessingAndTimestamps(t *testing.T) {
	q, _ := persistedQueue(t, nil)

	// A popped (processing) item persists; on load it must revert to pending.
	require.NoError(t, q.Push(item("a", 1)))
	_, ok, err := q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Persist())

	q2, err := New(q.inner.cfg, newTestClock(), nil)
	require.NoError(t, err)
	loaded, err := q2.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	got, found := q2.GetItem("a")
	require.True(t, found)
	assert.Equal(t, StatusPending, got.Status)
	assert.EqualValues(t, 0, got.ProcessingStartedAt)
}

func TestShutdownPerformsFinalPersist(t *testing.T) {
	q, path := persistedQueue(t, nil)
	require.NoError(t, q.Push(item("a", 1)))

	q.Shutdown()

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestBackgroundTasksStopOnShutdown(t *testing.T) {
	q, _ := persistedQueue(t, func(c *Config) {
		c.PersistenceInterval = 10 * time.Millisecond
		c.CleanupInterval = 10 * time.Millisecond
	})
	q.Start(t.Context())
	require.NoError(t, q.Push(item("a", 1)))
	time.Sleep(50 * time.Millisecond)
	q.Shutdown() // must return without hanging on the tickers
}
