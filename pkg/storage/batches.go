package storage

import (
	"context"
	"database/sql"
)

// BatchStatus is the processing state of a classification batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// BatchRecord tracks a batch of snapshots through lease-based processing.
// Lease expiry is wall-clock Unix seconds; only the holding worker may renew.
type BatchRecord struct {
	BatchID             string
	ActivityCount       int
	Status              BatchStatus
	CreatedAt           int64
	ProcessedAt         *int64
	ErrorMessage        *string
	ProcessingStartedAt *int64
	WorkerID            *string
	LeaseExpiresAt      *int64
	TimeEntriesCreated  int
	OpenAICost          float64
}

// BatchStats counts batches per status.
type BatchStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// BatchRepository persists batch leases and lifecycle.
type BatchRepository struct {
	m *Manager
}

const batchColumns = `batch_id, activity_count, status, created_at, processed_at, error_message, processing_started_at, worker_id, lease_expires_at, time_entries_created, openai_cost`

// Insert persists a new pending batch.
func (r *BatchRepository) Insert(ctx context.Context, b BatchRecord) error {
	const op = "insert batch"
	if b.BatchID == "" {
		return invalidInput(op, "batch id cannot be empty")
	}
	if b.Status == "" {
		b.Status = BatchPending
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		if b.CreatedAt == 0 {
			b.CreatedAt = r.m.now()
		}
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO batch_queue (`+batchColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.BatchID, b.ActivityCount, string(b.Status), b.CreatedAt, b.ProcessedAt,
			b.ErrorMessage, b.ProcessingStartedAt, b.WorkerID, b.LeaseExpiresAt,
			b.TimeEntriesCreated, b.OpenAICost)
		return struct{}{}, mapError(op, err)
	})
	return err
}

// GetByID returns the batch with the given id.
func (r *BatchRepository) GetByID(ctx context.Context, batchID string) (BatchRecord, error) {
	const op = "get batch"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (BatchRecord, error) {
		row := r.m.db.QueryRowContext(ctx,
			`SELECT `+batchColumns+` FROM batch_queue WHERE batch_id = ?`, batchID)
		b, err := scanBatch(row)
		return b, mapError(op, err)
	})
}

// GetByStatus returns batches with the status, oldest first.
func (r *BatchRepository) GetByStatus(ctx context.Context, status BatchStatus) ([]BatchRecord, error) {
	const op = "get batches by status"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]BatchRecord, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+batchColumns+` FROM batch_queue
			 WHERE status = ? ORDER BY created_at ASC`, string(status))
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return collectBatches(op, rows)
	})
}

// AcquireLease moves a pending batch to processing under the worker's lease.
// It fails with NotFound when the batch is not pending (someone else holds
// it or it already terminalized).
func (r *BatchRepository) AcquireLease(ctx context.Context, batchID, workerID string, leaseSecs int64) error {
	const op = "acquire batch lease"
	if workerID == "" {
		return invalidInput(op, "worker id cannot be empty")
	}
	if leaseSecs <= 0 {
		return invalidInput(op, "lease duration must be positive")
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		now := r.m.now()
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE batch_queue
			 SET worker_id = ?, lease_expires_at = ?, processing_started_at = ?, status = 'processing'
			 WHERE batch_id = ? AND status = 'pending'`,
			workerID, now+leaseSecs, now, batchID)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// RenewLease extends a lease. Only the holding worker may renew.
func (r *BatchRepository) RenewLease(ctx context.Context, batchID, workerID string, leaseSecs int64) error {
	const op = "renew batch lease"
	if leaseSecs <= 0 {
		return invalidInput(op, "lease duration must be positive")
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE batch_queue
			 SET lease_expires_at = ?
			 WHERE batch_id = ? AND worker_id = ?`,
			r.m.now()+leaseSecs, batchID, workerID)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// UpdateStatus overwrites a batch's status without lease checks.
func (r *BatchRepository) UpdateStatus(ctx context.Context, batchID string, status BatchStatus) error {
	const op = "update batch status"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE batch_queue SET status = ? WHERE batch_id = ?`, string(status), batchID)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// Complete terminalizes a batch as completed, recording outcome counters.
func (r *BatchRepository) Complete(ctx context.Context, batchID string, timeEntriesCreated int, openAICost float64) error {
	const op = "complete batch"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE batch_queue
			 SET status = 'completed', processed_at = ?, time_entries_created = ?, openai_cost = ?
			 WHERE batch_id = ?`,
			r.m.now(), timeEntriesCreated, openAICost, batchID)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// MarkFailed terminalizes a batch as failed with a reason.
func (r *BatchRepository) MarkFailed(ctx context.Context, batchID, reason string) error {
	const op = "mark batch failed"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE batch_queue
			 SET status = 'failed', processed_at = ?, error_message = ?
			 WHERE batch_id = ?`,
			r.m.now(), reason, batchID)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// StaleLeases returns processing batches whose lease expired before now.
func (r *BatchRepository) StaleLeases(ctx context.Context) ([]BatchRecord, error) {
	const op = "get stale batch leases"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]BatchRecord, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+batchColumns+` FROM batch_queue
			 WHERE status = 'processing' AND lease_expires_at < ?`, r.m.now())
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return collectBatches(op, rows)
	})
}

// RecoverStaleLeases resets expired processing batches back to pending,
// returning the recovered batch ids.
func (r *BatchRepository) RecoverStaleLeases(ctx context.Context) ([]string, error) {
	const op = "recover stale batch leases"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]string, error) {
		now := r.m.now()

		rows, err := r.m.db.QueryContext(ctx,
			`SELECT batch_id FROM batch_queue
			 WHERE status = 'processing' AND lease_expires_at < ?`, now)
		if err != nil {
			return nil, mapError(op, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, mapError(op, err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, mapError(op, err)
		}

		_, err = r.m.db.ExecContext(ctx,
			`UPDATE batch_queue
			 SET status = 'pending', worker_id = NULL, lease_expires_at = NULL, processing_started_at = NULL
			 WHERE status = 'processing' AND lease_expires_at < ?`, now)
		if err != nil {
			return nil, mapError(op, err)
		}
		return ids, nil
	})
}

// Stats counts batches per status.
func (r *BatchRepository) Stats(ctx context.Context) (BatchStats, error) {
	const op = "get batch stats"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (BatchStats, error) {
		var s BatchStats
		err := r.m.db.QueryRowContext(ctx,
			`SELECT
			   COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
			 FROM batch_queue`).
			Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed)
		return s, mapError(op, err)
	})
}

// CleanupOld deletes terminal batches created before the cutoff.
func (r *BatchRepository) CleanupOld(ctx context.Context, cutoff int64) (int64, error) {
	const op = "cleanup old batches"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (int64, error) {
		res, err := r.m.db.ExecContext(ctx,
			`DELETE FROM batch_queue
			 WHERE created_at < ? AND status IN ('completed', 'failed')`, cutoff)
		if err != nil {
			return 0, mapError(op, err)
		}
		n, err := res.RowsAffected()
		return n, mapError(op, err)
	})
}

// Delete removes a batch unconditionally.
func (r *BatchRepository) Delete(ctx context.Context, batchID string) error {
	const op = "delete batch"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`DELETE FROM batch_queue WHERE batch_id = ?`, batchID)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

func scanBatch(row interface{ Scan(...any) error }) (BatchRecord, error) {
	var b BatchRecord
	var status string
	err := row.Scan(&b.BatchID, &b.ActivityCount, &status, &b.CreatedAt, &b.ProcessedAt,
		&b.ErrorMessage, &b.ProcessingStartedAt, &b.WorkerID, &b.LeaseExpiresAt,
		&b.TimeEntriesCreated, &b.OpenAICost)
	if err != nil {
		return BatchRecord{}, err
	}
	b.Status = BatchStatus(status)
	return b, nil
}

func collectBatches(op string, rows *sql.Rows) ([]BatchRecord, error) {
	var out []BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, b)
	}
	return out, mapError(op, rows.Err())
}
