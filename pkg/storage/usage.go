package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// TokenUsage is one append-only usage row. Estimated rows (is_actual=false)
// are written when a batch is submitted; actual rows arrive with the
// provider's response.
type TokenUsage struct {
	ID               string
	BatchID          string
	UserID           string
	InputTokens      int64
	OutputTokens     int64
	EstimatedCostUSD float64
	Timestamp        int64
	IsActual         bool
}

// BatchTokenTotals sums token counts for one batch and one is_actual flag.
type BatchTokenTotals struct {
	InputTokens  int64
	OutputTokens int64
	Rows         int64
}

// DailyCost is one date bucket of a user's spend.
type DailyCost struct {
	Date    string
	CostUSD float64
}

// TokenUsageRepository persists token usage rows.
type TokenUsageRepository struct {
	m *Manager
}

// Insert appends one usage row, generating a UUIDv7 id when absent.
func (r *TokenUsageRepository) Insert(ctx context.Context, u TokenUsage) error {
	const op = "insert token usage"
	if u.BatchID == "" {
		return invalidInput(op, "batch id cannot be empty")
	}
	if u.UserID == "" {
		return invalidInput(op, "user id cannot be empty")
	}
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return invalidInput(op, "token counts cannot be negative")
	}
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return internal(op, err)
		}
		u.ID = id.String()
	}
	_, err := dispatch(ctx, r.m.disp, op, func(ctx context.Context) (struct{}, error) {
		if u.Timestamp == 0 {
			u.Timestamp = r.m.now()
		}
		_, err := r.m.db.ExecContext(ctx,
			`INSERT INTO token_usage (id, batch_id, user_id, input_tokens, output_tokens, estimated_cost_usd, timestamp, is_actual)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.BatchID, u.UserID, u.InputTokens, u.OutputTokens,
			u.EstimatedCostUSD, u.Timestamp, boolToInt(u.IsActual))
		return struct{}{}, mapError(op, err)
	})
	return err
}

// SumCostSince totals a user's spend for rows at or after the cutoff.
func (r *TokenUsageRepository) SumCostSince(ctx context.Context, userID string, since int64) (float64, error) {
	const op = "sum usage cost"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (float64, error) {
		var total float64
		err := r.m.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(estimated_cost_usd), 0)
			 FROM token_usage WHERE user_id = ? AND timestamp >= ?`, userID, since).Scan(&total)
		return total, mapError(op, err)
	})
}

// BatchTotals sums token counts for one batch, split by the is_actual flag.
func (r *TokenUsageRepository) BatchTotals(ctx context.Context, batchID string, isActual bool) (BatchTokenTotals, error) {
	const op = "sum batch tokens"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) (BatchTokenTotals, error) {
		var t BatchTokenTotals
		err := r.m.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COUNT(*)
			 FROM token_usage WHERE batch_id = ? AND is_actual = ?`,
			batchID, boolToInt(isActual)).
			Scan(&t.InputTokens, &t.OutputTokens, &t.Rows)
		return t, mapError(op, err)
	})
}

// DailyCosts buckets a user's spend by UTC calendar date, oldest first.
func (r *TokenUsageRepository) DailyCosts(ctx context.Context, userID string, since int64) ([]DailyCost, error) {
	const op = "get daily costs"
	return dispatch(ctx, r.m.disp, op, func(ctx context.Context) ([]DailyCost, error) {
		rows, err := r.m.db.QueryContext(ctx,
			`SELECT date(timestamp, 'unixepoch') AS day, SUM(estimated_cost_usd)
			 FROM token_usage
			 WHERE user_id = ? AND timestamp >= ?
			 GROUP BY day ORDER BY day ASC`, userID, since)
		if err != nil {
			return nil, mapError(op, err)
		}
		defer rows.Close()
		return collectDailyCosts(op, rows)
	})
}

func collectDailyCosts(op string, rows *sql.Rows) ([]DailyCost, error) {
	var out []DailyCost
	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Date, &d.CostUSD); err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, d)
	}
	return out, mapError(op, rows.Err())
}
