package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// Outbox retry policy. MaxAttempts is a fixed constant of the storage layer,
// not exposed through configuration.
const (
	outboxMaxAttempts        = 5
	outboxBaseRetryDelaySecs = 60
	outboxMaxBackoffExponent = 4
)

// OutboxEntry is a durable pending side-effect: a time entry awaiting
// forwarding to a remote target. retry_after is Unix milliseconds; other
// timestamps are Unix seconds. (target, idempotency_key) is unique per user.
type OutboxEntry struct {
	ID             string
	IdempotencyKey string
	UserID         string
	Payload        json.RawMessage
	Target         string
	Status         OutboxStatus
	Attempts       int
	LastError      *string
	RetryAfter     *int64
	SapEntryID     *string
	CorrelationID  *string
	WBSCode        *string
	Description    *string
	Version        int
	CreatedAt      int64
	UpdatedAt      int64
}

// OutboxRepository persists the time-entry outbox.
type OutboxRepository struct {
	m *Manager
}

const outboxColumns = `id, idempotency_key, user_id, payload, target, status, attempts, last_error, retry_after, sap_entry_id, correlation_id, wbs_code, description, version, created_at, updated_at`

// Enqueue inserts a pending entry, generating a UUIDv7 id when absent.
func (r *OutboxRepository) Enqueue(ctx context.Context, e OutboxEntry) (string, error) {
	const op = "enqueue outbox entry"
	if e.IdempotencyKey == "" {
		return "", invalidInput(op, "idempotency key cannot be empty")
	}
	if e.UserID == "" {
		return "", invalidInput(op, "user id cannot be empty")
	}
	if e.Target == "" {
		return "", invalidInput(op, "target cannot be empty")
	}
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", internal(op, err)
		}
		e.ID = id.String()
	}
	if e.Payload == nil {
		e.Payload = json.RawMessage("{}")
	}
	if e.Version == 0 {
		e.Version = 1
	}

	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (string, error) {
		now := r.m.now()
		if e.CreatedAt == 0 {
			e.CreatedAt = now
		}
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO time_entry_outbox (`+outboxColumns+`)
			 VALUES (?, ?, ?, ?, ?, 'pending', 0, NULL, NULL, NULL, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.IdempotencyKey, e.UserID, string(e.Payload), e.Target,
			e.CorrelationID, e.WBSCode, e.Description, e.Version, e.CreatedAt, now)
		if err != nil {
			return "", mapError(op, err)
		}
		return e.ID, nil
	})
}

// DequeueBatch returns up to limit pending entries whose retry cooldown has
// elapsed, in FIFO order by creation time.
func (r *OutboxRepository) DequeueBatch(ctx context.Context, limit int) ([]OutboxEntry, error) {
	const op = "dequeue outbox batch"
	if limit <= 0 {
		return nil, invalidInput(op, "limit must be positive")
	}
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]OutboxEntry, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+outboxColumns+` FROM time_entry_outbox
			 WHERE status = 'pending' AND (retry_after IS NULL OR retry_after <= ?)
			 ORDER BY created_at ASC, id ASC
			 LIMIT ?`, r.m.nowMillis(), limit)
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return collectOutbox(op, rows)
	})
}

// GetByID returns the entry with the given id.
func (r *OutboxRepository) GetByID(ctx context.Context, id string) (OutboxEntry, error) {
	const op = "get outbox entry"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (OutboxEntry, error) {
		row := r.m.db.QueryRowContext(ctx,
			`SELECT `+outboxColumns+` FROM time_entry_outbox WHERE id = ?`, id)
		e, err := scanOutbox(row)
		return e, mapError(op, err)
	})
}

// MarkSent terminalizes an entry as delivered, recording the remote entry id.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string, sapEntryID *string) error {
	const op = "mark outbox entry sent"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE time_entry_outbox
			 SET status = 'sent', sap_entry_id = ?, last_error = NULL, retry_after = NULL, updated_at = ?
			 WHERE id = ?`, sapEntryID, r.m.now(), id)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// MarkFailed increments attempts and writes the error. While attempts remain
// the entry stays pending behind an exponential retry_after cooldown
// (60s * 2^min(attempt-1, 4)); at the attempt cap it transitions to the
// terminal failed state.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	const op = "mark outbox entry failed"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		var attempts int
		err := r.m.db.QueryRowContext(ctx,
			`SELECT attempts FROM time_entry_outbox WHERE id = ?`, id).Scan(&attempts)
		if err != nil {
			return struct{}{}, mapError(op, err)
		}

		attempts++
		now := r.m.now()

		if attempts >= outboxMaxAttempts {
			res, err := r.m.db.ExecContext(ctx,
				`UPDATE time_entry_outbox
				 SET status = 'failed', attempts = ?, last_error = ?, retry_after = NULL, updated_at = ?
				 WHERE id = ?`, attempts, cause, now, id)
			return struct{}{}, affectedOrNotFound(op, res, err)
		}

		exponent := attempts - 1
		if exponent > outboxMaxBackoffExponent {
			exponent = outboxMaxBackoffExponent
		}
		retryAfter := r.m.nowMillis() + int64(outboxBaseRetryDelaySecs)*(1<<exponent)*1000

		res, err := r.m.db.ExecContext(ctx,
			`UPDATE time_entry_outbox
			 SET status = 'pending', attempts = ?, last_error = ?, retry_after = ?, updated_at = ?
			 WHERE id = ?`, attempts, cause, retryAfter, now, id)
		return struct{}{}, affectedOrNotFound(op, res, err)
	})
	return err
}

// PendingCount returns the number of entries awaiting delivery.
func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	const op = "count pending outbox entries"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (int64, error) {
		var n int64
		err := r.m.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM time_entry_outbox WHERE status = 'pending'`).Scan(&n)
		return n, mapError(op, err)
	})
}

func scanOutbox(row interface{ Scan(...any) error }) (OutboxEntry, error) {
	var e OutboxEntry
	var status, payload string
	err := row.Scan(&e.ID, &e.IdempotencyKey, &e.UserID, &payload, &e.Target, &status,
		&e.Attempts, &e.LastError, &e.RetryAfter, &e.SapEntryID, &e.CorrelationID,
		&e.WBSCode, &e.Description, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return OutboxEntry{}, err
	}
	e.Status = OutboxStatus(status)
	e.Payload = json.RawMessage(payload)
	return e, nil
}

func collectOutbox(op string, rows *sql.Rows) ([]OutboxEntry, error) {
	var out []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, e)
	}
	return out, mapError(op, rows.Err())
}

func affectedOrNotFound(op string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return notFound(op)
	}
	return nil
}
