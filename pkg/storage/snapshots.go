package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// ActivitySnapshot is one append-only capture of foreground activity.
// Timestamp and CreatedAt are Unix seconds.
type ActivitySnapshot struct {
	ID           string
	Timestamp    int64
	AppName      string
	WindowTitle  string
	DurationSecs int64
	IsIdle       bool
	BatchID      *string
	CreatedAt    int64
}

// SnapshotRepository persists activity snapshots. All methods dispatch
// blocking SQL onto the manager's worker pool.
type SnapshotRepository struct {
	m *Manager
}

// NewSnapshotID returns a fresh UUIDv7 for snapshot primary keys.
func NewSnapshotID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", internal("new snapshot id", err)
	}
	return id.String(), nil
}

const snapshotColumns = `id, timestamp, app_name, window_title, duration_secs, is_idle, batch_id, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (ActivitySnapshot, error) {
	var s ActivitySnapshot
	var isIdle int
	err := row.Scan(&s.ID, &s.Timestamp, &s.AppName, &s.WindowTitle, &s.DurationSecs, &isIdle, &s.BatchID, &s.CreatedAt)
	if err != nil {
		return ActivitySnapshot{}, err
	}
	s.IsIdle = isIdle != 0
	return s, nil
}

// Insert persists one snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, s ActivitySnapshot) error {
	const op = "insert snapshot"
	if s.ID == "" {
		return invalidInput(op, "snapshot id cannot be empty")
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		if s.CreatedAt == 0 {
			s.CreatedAt = r.m.now()
		}
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO activity_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.Timestamp, s.AppName, s.WindowTitle, s.DurationSecs, boolToInt(s.IsIdle), s.BatchID, s.CreatedAt)
		return struct{}{}, mapError(op, err)
	})
	return err
}

// InsertBatch persists many snapshots in one transaction, rolling back on the
// first error.
func (r *SnapshotRepository) InsertBatch(ctx context.Context, snapshots []ActivitySnapshot) error {
	const op = "insert snapshot batch"
	if len(snapshots) == 0 {
		return nil
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		tx, err := r.m.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, mapError(op, err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO activity_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return struct{}{}, mapError(op, err)
		}
		defer stmt.Close()

		now := r.m.now()
		for _, s := range snapshots {
			if s.ID == "" {
				return struct{}{}, invalidInput(op, "snapshot id cannot be empty")
			}
			createdAt := s.CreatedAt
			if createdAt == 0 {
				createdAt = now
			}
			if _, err := stmt.ExecContext(ctx,
				s.ID, s.Timestamp, s.AppName, s.WindowTitle, s.DurationSecs, boolToInt(s.IsIdle), s.BatchID, createdAt); err != nil {
				return struct{}{}, mapError(op, err)
			}
		}
		return struct{}{}, mapError(op, tx.Commit())
	})
	return err
}

// GetByID returns the snapshot with the given id.
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (ActivitySnapshot, error) {
	const op = "get snapshot"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (ActivitySnapshot, error) {
		row := r.m.db.QueryRowContext(ctx,
			`SELECT `+snapshotColumns+` FROM activity_snapshots WHERE id = ?`, id)
		s, err := scanSnapshot(row)
		return s, mapError(op, err)
	})
}

// GetRange returns snapshots with start <= timestamp < end, ordered by
// timestamp ascending.
func (r *SnapshotRepository) GetRange(ctx context.Context, start, end int64) ([]ActivitySnapshot, error) {
	const op = "get snapshot range"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]ActivitySnapshot, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+snapshotColumns+` FROM activity_snapshots
			 WHERE timestamp >= ? AND timestamp < ?
			 ORDER BY timestamp ASC`, start, end)
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return collectSnapshots(op, rows)
	})
}

// GetPage returns snapshots ordered by timestamp descending, paginated.
func (r *SnapshotRepository) GetPage(ctx context.Context, limit, offset int) ([]ActivitySnapshot, error) {
	const op = "get snapshot page"
	if limit <= 0 {
		return nil, invalidInput(op, "limit must be positive")
	}
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]ActivitySnapshot, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+snapshotColumns+` FROM activity_snapshots
			 ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return collectSnapshots(op, rows)
	})
}

// CountByDate returns the snapshot count for one UTC calendar date
// ("YYYY-MM-DD").
func (r *SnapshotRepository) CountByDate(ctx context.Context, date string) (int64, error) {
	const op = "count snapshots by date"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (int64, error) {
		var n int64
		err := r.m.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_snapshots WHERE date(timestamp, 'unixepoch') = ?`, date).Scan(&n)
		return n, mapError(op, err)
	})
}

// CountActive returns the number of non-idle snapshots in [start, end).
func (r *SnapshotRepository) CountActive(ctx context.Context, start, end int64) (int64, error) {
	const op = "count active snapshots"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (int64, error) {
		var n int64
		err := r.m.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_snapshots
			 WHERE timestamp >= ? AND timestamp < ? AND is_idle = 0`, start, end).Scan(&n)
		return n, mapError(op, err)
	})
}

// DeleteBefore removes snapshots older than the cutoff, returning how many.
func (r *SnapshotRepository) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const op = "delete old snapshots"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (int64, error) {
		res, err := r.m.db.ExecContext(ctx,
			`DELETE FROM activity_snapshots WHERE timestamp < ?`, cutoff)
		if err != nil {
			return 0, mapError(op, err)
		}
		n, err := res.RowsAffected()
		return n, mapError(op, err)
	})
}

func collectSnapshots(op string, rows *sql.Rows) ([]ActivitySnapshot, error) {
	var out []ActivitySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, s)
	}
	return out, mapError(op, rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
