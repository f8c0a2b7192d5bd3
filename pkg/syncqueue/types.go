// Package syncqueue implements a persistent, priority-ordered, deduplicated
// work queue with retry scheduling, circuit-breaker integration, periodic
// persistence, and a maintenance loop.
package syncqueue

import (
	"encoding/json"
	"fmt"

	"github.com/pulsearc/core/pkg/clock"
)

// millisThreshold separates seconds-valued from millis-valued timestamps.
// Historical snapshots stored seconds; anything at or below this is upgraded.
const millisThreshold = int64(1_000_000_000_000)

// normalizeMillis upgrades seconds-valued timestamps to milliseconds.
func normalizeMillis(ts int64) int64 {
	if ts > 0 && ts < millisThreshold {
		return ts * 1000
	}
	return ts
}

// Status is an item's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:    "pending",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
	StatusCancelled:  "cancelled",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// IsTerminal reports whether the status ends the item's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) MarshalJSON() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("syncqueue: cannot marshal status %d", int(s))
	}
	return json.Marshal(n)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	for st, name := range statusNames {
		if name == n {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("syncqueue: unknown status %q", n)
}

// Item is one unit of work. Timestamps are Unix milliseconds; NextRetryAt and
// ProcessingStartedAt are zero when unset.
type Item struct {
	ID                   string          `json:"id"`
	Priority             int             `json:"priority"`
	Payload              json.RawMessage `json:"payload,omitempty"`
	RetryCount           int             `json:"retry_count"`
	MaxRetries           int             `json:"max_retries"`
	NextRetryAt          int64           `json:"next_retry_at,omitempty"`
	Status               Status          `json:"status"`
	CreatedAt            int64           `json:"created_at"`
	ProcessingStartedAt  int64           `json:"processing_started_at,omitempty"`
	ProcessingDurationMs int64           `json:"processing_duration_ms,omitempty"`
}

// NewItem creates a pending item stamped with the clock's current time.
func NewItem(id string, priority int, payload json.RawMessage, maxRetries int, clk clock.Clock) *Item {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Item{
		ID:         id,
		Priority:   priority,
		Payload:    payload,
		MaxRetries: maxRetries,
		Status:     StatusPending,
		CreatedAt:  clk.MillisSinceEpoch(),
	}
}

// clone returns an independent copy so callers never share queue-internal
// state.
func (i *Item) clone() *Item {
	c := *i
	if i.Payload != nil {
		c.Payload = make(json.RawMessage, len(i.Payload))
		copy(c.Payload, i.Payload)
	}
	return &c
}
