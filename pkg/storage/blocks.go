package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// BlockStatus is the review state of a proposed time block.
type BlockStatus string

const (
	BlockSuggested BlockStatus = "suggested"
	BlockAccepted  BlockStatus = "accepted"
	BlockRejected  BlockStatus = "rejected"
)

// ProposedBlock is a suggested time entry derived from snapshots and
// segments. Collection fields persist as JSON arrays in single columns.
// Blocks are immutable once persisted except for status and reviewed_at.
type ProposedBlock struct {
	ID                  string
	StartTs             int64
	EndTs               int64
	Label               string
	WBSCode             *string
	Confidence          float64
	SnapshotIDs         []string
	SegmentIDs          []string
	Reasons             []string
	OverlappingEventIDs []string
	Status              BlockStatus
	CreatedAt           int64
	ReviewedAt          *int64
}

// BlockConfig is the single-row tuning record for block proposal.
type BlockConfig struct {
	MinBlockSecs        int64
	MergeGapSecs        int64
	ConfidenceThreshold float64
}

// DefaultBlockConfig is returned when no row has been stored.
func DefaultBlockConfig() BlockConfig {
	return BlockConfig{
		MinBlockSecs:        15 * 60,
		MergeGapSecs:        5 * 60,
		ConfidenceThreshold: 0.6,
	}
}

// BlockRepository persists proposed time blocks.
type BlockRepository struct {
	m *Manager
}

const blockColumns = `id, start_ts, end_ts, label, wbs_code, confidence, snapshot_ids, segment_ids, reasons, overlapping_event_ids, status, created_at, reviewed_at`

// Upsert inserts the block or replaces an existing row with the same id.
func (r *BlockRepository) Upsert(ctx context.Context, b ProposedBlock) error {
	const op = "upsert block"
	if b.ID == "" {
		return invalidInput(op, "block id cannot be empty")
	}
	if b.EndTs < b.StartTs {
		return invalidInput(op, "block end precedes start")
	}
	if b.Status == "" {
		b.Status = BlockSuggested
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		if b.CreatedAt == 0 {
			b.CreatedAt = r.m.now()
		}
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO proposed_time_blocks (`+blockColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   start_ts = excluded.start_ts,
			   end_ts = excluded.end_ts,
			   label = excluded.label,
			   wbs_code = excluded.wbs_code,
			   confidence = excluded.confidence,
			   snapshot_ids = excluded.snapshot_ids,
			   segment_ids = excluded.segment_ids,
			   reasons = excluded.reasons,
			   overlapping_event_ids = excluded.overlapping_event_ids`,
			b.ID, b.StartTs, b.EndTs, b.Label, b.WBSCode, b.Confidence,
			encodeJSONArray(b.SnapshotIDs), encodeJSONArray(b.SegmentIDs),
			encodeJSONArray(b.Reasons), encodeJSONArray(b.OverlappingEventIDs),
			string(b.Status), b.CreatedAt, b.ReviewedAt)
		return struct{}{}, mapError(op, err)
	})
	return err
}

// GetByID returns the block with the given id.
func (r *BlockRepository) GetByID(ctx context.Context, id string) (ProposedBlock, error) {
	const op = "get block"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (ProposedBlock, error) {
		row := r.m.db.QueryRowContext(ctx,
			`SELECT `+blockColumns+` FROM proposed_time_blocks WHERE id = ?`, id)
		b, err := r.scanBlock(row)
		return b, mapError(op, err)
	})
}

// GetRange returns blocks overlapping [start, end), ordered by start time.
func (r *BlockRepository) GetRange(ctx context.Context, start, end int64) ([]ProposedBlock, error) {
	const op = "get block range"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]ProposedBlock, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+blockColumns+` FROM proposed_time_blocks
			 WHERE end_ts > ? AND start_ts < ?
			 ORDER BY start_ts ASC`, start, end)
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return r.collectBlocks(op, rows)
	})
}

// GetHistory returns reviewed blocks (accepted or rejected), most recent
// review first.
func (r *BlockRepository) GetHistory(ctx context.Context, limit int) ([]ProposedBlock, error) {
	const op = "get block history"
	if limit <= 0 {
		limit = 100
	}
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]ProposedBlock, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT `+blockColumns+` FROM proposed_time_blocks
			 WHERE status IN ('accepted', 'rejected')
			 ORDER BY reviewed_at DESC LIMIT ?`, limit)
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return r.collectBlocks(op, rows)
	})
}

// UpdateStatus transitions a suggested block to accepted or rejected,
// stamping the review time. Re-reviewing an already-reviewed block fails
// with NotFound.
func (r *BlockRepository) UpdateStatus(ctx context.Context, id string, status BlockStatus) error {
	const op = "update block status"
	if status != BlockAccepted && status != BlockRejected {
		return invalidInput(op, "status must be accepted or rejected")
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		res, err := r.m.db.ExecContext(ctx,
			`UPDATE proposed_time_blocks
			 SET status = ?, reviewed_at = ?
			 WHERE id = ? AND status = 'suggested'`,
			string(status), r.m.now(), id)
		if err != nil {
			return struct{}{}, mapError(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return struct{}{}, mapError(op, err)
		}
		if n == 0 {
			return struct{}{}, notFound(op)
		}
		return struct{}{}, nil
	})
	return err
}

// GetConfig returns the single-row block config, or defaults when absent.
func (r *BlockRepository) GetConfig(ctx context.Context) (BlockConfig, error) {
	const op = "get block config"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (BlockConfig, error) {
		var c BlockConfig
		err := r.m.db.QueryRowContext(ctx,
			`SELECT min_block_secs, merge_gap_secs, confidence_threshold FROM block_config WHERE id = 1`).
			Scan(&c.MinBlockSecs, &c.MergeGapSecs, &c.ConfidenceThreshold)
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultBlockConfig(), nil
		}
		return c, mapError(op, err)
	})
}

// SetConfig stores the single-row block config.
func (r *BlockRepository) SetConfig(ctx context.Context, c BlockConfig) error {
	const op = "set block config"
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO block_config (id, min_block_secs, merge_gap_secs, confidence_threshold)
			 VALUES (1, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   min_block_secs = excluded.min_block_secs,
			   merge_gap_secs = excluded.merge_gap_secs,
			   confidence_threshold = excluded.confidence_threshold`,
			c.MinBlockSecs, c.MergeGapSecs, c.ConfidenceThreshold)
		return struct{}{}, mapError(op, err)
	})
	return err
}

func (r *BlockRepository) scanBlock(row interface{ Scan(...any) error }) (ProposedBlock, error) {
	var b ProposedBlock
	var status string
	var snapshotIDs, segmentIDs, reasons, overlapping string
	err := row.Scan(&b.ID, &b.StartTs, &b.EndTs, &b.Label, &b.WBSCode, &b.Confidence,
		&snapshotIDs, &segmentIDs, &reasons, &overlapping, &status, &b.CreatedAt, &b.ReviewedAt)
	if err != nil {
		return ProposedBlock{}, err
	}
	b.Status = BlockStatus(status)
	b.SnapshotIDs = r.decodeJSONArray("snapshot_ids", snapshotIDs)
	b.SegmentIDs = r.decodeJSONArray("segment_ids", segmentIDs)
	b.Reasons = r.decodeJSONArray("reasons", reasons)
	b.OverlappingEventIDs = r.decodeJSONArray("overlapping_event_ids", overlapping)
	return b, nil
}

func (r *BlockRepository) collectBlocks(op string, rows *sql.Rows) ([]ProposedBlock, error) {
	var out []ProposedBlock
	for rows.Next() {
		b, err := r.scanBlock(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, b)
	}
	return out, mapError(op, rows.Err())
}

func encodeJSONArray(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodeJSONArray is non-fatal: a corrupt auxiliary column falls back to
// empty with a warning instead of failing the whole read.
func (r *BlockRepository) decodeJSONArray(column, raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		r.m.logger.Warn("ignoring undecodable JSON column", "column", column, "error", err)
		return nil
	}
	return out
}
