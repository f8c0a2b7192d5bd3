package storage

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsearc/core/pkg/clock"
)

var testDBKey = bytes.Repeat([]byte{0x42}, 32)

func newTestManager(t *testing.T) (*Manager, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "core.db")
	m, err := NewManager(DefaultConfig(path, testDBKey), clk, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, clk
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty path", func(c *Config) { c.Path = "" }, true},
		{"short key", func(c *Config) { c.Key = []byte("short") }, true},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }, true},
		{"negative busy timeout", func(c *Config) { c.BusyTimeout = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/tmp/x.db", testDBKey)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, IsKind(err, KindInvalidInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerWrongKey(t *testing.T) {
	clk := clock.NewMockClock(time.Now())
	path := filepath.Join(t.TempDir(), "core.db")

	m, err := NewManager(DefaultConfig(path, testDBKey), clk, slog.Default())
	require.NoError(t, err)
	require.NoError(t, m.Snapshots().Insert(context.Background(), ActivitySnapshot{
		ID: "s1", Timestamp: clk.Now().Unix(), AppName: "Code",
	}))
	require.NoError(t, m.Close())

	wrongKey := bytes.Repeat([]byte{0x13}, 32)
	_, err = NewManager(DefaultConfig(path, wrongKey), clk, slog.Default())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSecurity), "wrong key should map to a security error, got %v", err)
}

func TestSnapshotRepository(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Snapshots()
	ctx := context.Background()
	base := clk.Now().Unix()

	t.Run("insert and get", func(t *testing.T) {
		s := ActivitySnapshot{
			ID:           "snap-1",
			Timestamp:    base,
			AppName:      "Terminal",
			WindowTitle:  "zsh",
			DurationSecs: 30,
		}
		require.NoError(t, repo.Insert(ctx, s))

		got, err := repo.GetByID(ctx, "snap-1")
		require.NoError(t, err)
		assert.Equal(t, "Terminal", got.AppName)
		assert.Equal(t, base, got.Timestamp)
		assert.Equal(t, base, got.CreatedAt)
		assert.False(t, got.IsIdle)
	})

	t.Run("missing id is not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nope")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("empty id rejected", func(t *testing.T) {
		err := repo.Insert(ctx, ActivitySnapshot{Timestamp: base})
		assert.True(t, IsKind(err, KindInvalidInput))
	})

	t.Run("batch insert and range", func(t *testing.T) {
		var batch []ActivitySnapshot
		for i := 0; i < 5; i++ {
			batch = append(batch, ActivitySnapshot{
				ID:        "batch-" + string(rune('a'+i)),
				Timestamp: base + 100 + int64(i),
				AppName:   "Slack",
				IsIdle:    i%2 == 1,
			})
		}
		require.NoError(t, repo.InsertBatch(ctx, batch))

		got, err := repo.GetRange(ctx, base+100, base+103)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "batch-a", got[0].ID)
		assert.Equal(t, "batch-c", got[2].ID)

		active, err := repo.CountActive(ctx, base+100, base+105)
		require.NoError(t, err)
		assert.Equal(t, int64(3), active)
	})

	t.Run("batch insert rolls back on bad row", func(t *testing.T) {
		err := repo.InsertBatch(ctx, []ActivitySnapshot{
			{ID: "ok-1", Timestamp: base + 500},
			{Timestamp: base + 501},
		})
		require.Error(t, err)
		_, err = repo.GetByID(ctx, "ok-1")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("page is newest first", func(t *testing.T) {
		got, err := repo.GetPage(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "batch-e", got[0].ID)
	})

	t.Run("count by date", func(t *testing.T) {
		n, err := repo.CountByDate(ctx, "2025-06-01")
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := repo.DeleteBefore(ctx, base+100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestBlockRepository(t *testing.T) {
	m, clk := newTestManager(t)
	repo := m.Blocks()
	ctx := context.Background()
	base := clk.Now().Unix()

	t.Run("upsert and get", func(t *testing.T) {
		b := ProposedBlock{
			ID:          "blk-1",
			StartTs:     base,
			EndTs:       base + 1800,
			Label:       "Code review",
			Confidence:  0.8,
			SnapshotIDs: []string{"s1", "s2"},
			Reasons:     []string{"dominant app"},
		}
		require.NoError(t, repo.Upsert(ctx, b))

		got, err := repo.GetByID(ctx, "blk-1")
		require.NoError(t, err)
		assert.Equal(t, BlockSuggested, got.Status)
		assert.Equal(t, []string{"s1", "s2"}, got.SnapshotIDs)
		assert.Equal(t, []string{"dominant app"}, got.Reasons)
		assert.Nil(t, got.SegmentIDs)
	})

	t.Run("upsert preserves status and created_at", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, "blk-1", BlockAccepted))

		require.NoError(t, repo.Upsert(ctx, ProposedBlock{
			ID: "blk-1", StartTs: base, EndTs: base + 3600, Label: "Code review (longer)",
		}))
		got, err := repo.GetByID(ctx, "blk-1")
		require.NoError(t, err)
		assert.Equal(t, BlockAccepted, got.Status)
		assert.Equal(t, base+3600, got.EndTs)
		require.NotNil(t, got.ReviewedAt)
	})

	t.Run("re-review fails", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "blk-1", BlockRejected)
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "blk-1", BlockSuggested)
		assert.True(t, IsKind(err, KindInvalidInput))
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		err := repo.Upsert(ctx, ProposedBlock{ID: "bad", StartTs: 100, EndTs: 50})
		assert.True(t, IsKind(err, KindInvalidInput))
	})

	t.Run("range uses overlap semantics", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, ProposedBlock{
			ID: "blk-2", StartTs: base + 4000, EndTs: base + 5000, Label: "Standup",
		}))
		got, err := repo.GetRange(ctx, base+4500, base+9000)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "blk-2", got[0].ID)
	})

	t.Run("history returns reviewed blocks", func(t *testing.T) {
		got, err := repo.GetHistory(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "blk-1", got[0].ID)
	})

	t.Run("config defaults when unset", func(t *testing.T) {
		cfg, err := repo.GetConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultBlockConfig(), cfg)
	})

	t.Run("config round trip", func(t *testing.T) {
		want := BlockConfig{MinBlockSecs: 600, MergeGapSecs: 120, ConfidenceThreshold: 0.75}
		require.NoError(t, repo.SetConfig(ctx, want))
		got, err := repo.GetConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestIDMappingRepository(t *testing.T) {
	m, _ := newTestManager(t)
	repo := m.IDMappings()
	ctx := context.Background()

	t.Run("create and resolve both directions", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, IDMapping{
			LocalID: "local-1", BackendID: "cuid-1", EntityType: "time_entry",
		}))

		backend, err := repo.GetBackendID(ctx, "local-1", "time_entry")
		require.NoError(t, err)
		assert.Equal(t, "cuid-1", backend)

		local, err := repo.GetLocalID(ctx, "cuid-1", "time_entry")
		require.NoError(t, err)
		assert.Equal(t, "local-1", local)
	})

	t.Run("mappings are scoped by entity type", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, IDMapping{
			LocalID: "local-1", BackendID: "cuid-other", EntityType: "project",
		}))

		_, err := repo.GetBackendID(ctx, "local-1", "unknown")
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("remapping either side fails", func(t *testing.T) {
		err := repo.Create(ctx, IDMapping{
			LocalID: "local-1", BackendID: "cuid-2", EntityType: "time_entry",
		})
		assert.True(t, IsKind(err, KindInvalidInput))

		err = repo.Create(ctx, IDMapping{
			LocalID: "local-2", BackendID: "cuid-1", EntityType: "time_entry",
		})
		assert.True(t, IsKind(err, KindInvalidInput))
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		err := repo.Create(ctx, IDMapping{LocalID: "x", EntityType: "time_entry"})
		assert.True(t, IsKind(err, KindInvalidInput))
	})

	t.Run("delete by entity", func(t *testing.T) {
		n, err := repo.DeleteByEntity(ctx, "time_entry")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repo.GetLocalID(ctx, "cuid-other", "project")
		assert.NoError(t, err)
	})
}
