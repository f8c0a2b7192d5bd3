package syncqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrShuttingDown is returned once Shutdown has been requested.
	ErrShuttingDown = errors.New("sync queue is shutting down")

	// ErrLocked is returned while the queue is in exclusive maintenance mode.
	ErrLocked = errors.New("sync queue is locked for maintenance")

	// ErrCapacityExceeded is returned when the queue is at max capacity.
	ErrCapacityExceeded = errors.New("sync queue capacity exceeded")

	// ErrItemNotFound is returned by id-addressed operations for unknown ids.
	ErrItemNotFound = errors.New("sync queue item not found")
)

// DuplicateItemError reports a rejected push of an already-queued id.
type DuplicateItemError struct {
	ID string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("duplicate item: %s", e.ID)
}
