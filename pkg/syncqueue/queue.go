package syncqueue

import (
	"container/heap"
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsearc/core/pkg/clock"
	"github.com/pulsearc/core/pkg/resilience"
)

// Queue is a cheap handle over shared queue state; copies share the same
// underlying queue.
type Queue struct {
	inner *queueInner
}

type queueInner struct {
	mu         sync.RWMutex
	heap       itemHeap
	itemMap    map[string]*Item
	processing map[string]struct{}
	sequence   uint64
	locked     bool
	shutdown   bool

	// notify wakes one PopWait caller; shutdownCh wakes all of them.
	notify     chan struct{}
	shutdownCh chan struct{}

	cfg       Config
	clk       clock.Clock
	breaker   *resilience.CircuitBreaker
	persister *Persister
	logger    *slog.Logger

	cancelTasks context.CancelFunc
	tasks       sync.WaitGroup

	pushed       atomic.Uint64
	popped       atomic.Uint64
	completed    atomic.Uint64
	failed       atomic.Uint64
	deduplicated atomic.Uint64
}

// New creates a queue. A nil clock defaults to the system clock; a nil logger
// defaults to slog.Default(). Persistence is enabled when cfg.PersistencePath
// is non-empty.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (Queue, error) {
	if err := cfg.Validate(); err != nil {
		return Queue{}, err
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker, err := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), clk, logger)
	if err != nil {
		return Queue{}, err
	}

	var persister *Persister
	if cfg.PersistencePath != "" {
		persister, err = NewPersister(cfg, logger)
		if err != nil {
			return Queue{}, err
		}
	}

	return Queue{inner: &queueInner{
		itemMap:    make(map[string]*Item),
		processing: make(map[string]struct{}),
		notify:     make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		cfg:        cfg,
		clk:        clk,
		breaker:    breaker,
		persister:  persister,
		logger:     logger,
	}}, nil
}

// Start launches the background persistence and maintenance tickers. It is
// optional: Persist and RunMaintenance stay callable without it.
func (q Queue) Start(ctx context.Context) {
	in := q.inner
	ctx, cancel := context.WithCancel(ctx)

	in.mu.Lock()
	if in.cancelTasks != nil || in.shutdown {
		in.mu.Unlock()
		cancel()
		return
	}
	in.cancelTasks = cancel
	in.mu.Unlock()

	if in.persister != nil {
		in.tasks.Add(1)
		go func() {
			defer in.tasks.Done()
			ticker := time.NewTicker(in.cfg.PersistenceInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := q.Persist(); err != nil {
						in.logger.Warn("periodic persistence failed", "error", err)
					}
				}
			}
		}()
	}

	in.tasks.Add(1)
	go func() {
		defer in.tasks.Done()
		ticker := time.NewTicker(in.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.RunMaintenance()
			}
		}
	}()
}

func (in *queueInner) notifyOne() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *queueInner) pushLocked(item *Item) {
	item.NextRetryAt = normalizeMillis(item.NextRetryAt)
	item.Status = StatusPending
	in.itemMap[item.ID] = item
	in.sequence++
	heap.Push(&in.heap, priorityItem{item: item, sequence: in.sequence})
}

// Push enqueues one item. It fails with ErrShuttingDown, ErrLocked,
// ErrCapacityExceeded, or DuplicateItemError.
func (q Queue) Push(item *Item) error {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.shutdown {
		return ErrShuttingDown
	}
	if in.locked {
		return ErrLocked
	}
	if len(in.itemMap) >= in.cfg.MaxCapacity {
		in.logger.Info("queue full, rejecting push", "id", item.ID, "capacity", in.cfg.MaxCapacity)
		return ErrCapacityExceeded
	}
	if in.cfg.EnableDeduplication {
		if _, exists := in.itemMap[item.ID]; exists {
			in.deduplicated.Add(1)
			in.logger.Info("duplicate item rejected", "id", item.ID)
			return &DuplicateItemError{ID: item.ID}
		}
	}

	in.pushLocked(item.clone())
	in.pushed.Add(1)
	in.notifyOne()
	return nil
}

// PushBatch enqueues many items, returning the ids actually added. The whole
// batch is rejected on the capacity check; within an accepted batch,
// duplicates are silently skipped and counted.
func (q Queue) PushBatch(items []*Item) ([]string, error) {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.shutdown {
		return nil, ErrShuttingDown
	}
	if in.locked {
		return nil, ErrLocked
	}
	if len(in.itemMap)+len(items) > in.cfg.MaxCapacity {
		return nil, ErrCapacityExceeded
	}

	added := make([]string, 0, len(items))
	for _, item := range items {
		if in.cfg.EnableDeduplication {
			if _, exists := in.itemMap[item.ID]; exists {
				in.deduplicated.Add(1)
				continue
			}
		}
		in.pushLocked(item.clone())
		in.pushed.Add(1)
		added = append(added, item.ID)
	}
	if len(added) > 0 {
		in.notifyOne()
	}
	return added, nil
}

// Pop returns the highest-priority item whose retry time has arrived, moving
// it to processing. The boolean is false when nothing is ready.
func (q Queue) Pop() (*Item, bool, error) {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.popLocked()
}

func (in *queueInner) popLocked() (*Item, bool, error) {
	if in.shutdown {
		return nil, false, ErrShuttingDown
	}
	if in.locked {
		return nil, false, ErrLocked
	}

	now := in.clk.MillisSinceEpoch()
	var deferred []priorityItem

	for in.heap.Len() > 0 {
		top := heap.Pop(&in.heap).(priorityItem)

		current, exists := in.itemMap[top.item.ID]
		if !exists || current != top.item {
			// Orphaned heap entry from a cancel, completion, or reinsertion.
			in.logger.Warn("discarding orphaned heap entry", "id", top.item.ID)
			continue
		}
		if _, busy := in.processing[top.item.ID]; busy {
			continue
		}
		if current.NextRetryAt > now {
			deferred = append(deferred, top)
			continue
		}

		for _, d := range deferred {
			heap.Push(&in.heap, d)
		}
		in.processing[current.ID] = struct{}{}
		current.Status = StatusProcessing
		current.ProcessingStartedAt = now
		in.popped.Add(1)
		return current.clone(), true, nil
	}

	for _, d := range deferred {
		heap.Push(&in.heap, d)
	}
	return nil, false, nil
}

// PopWait is Pop that waits up to timeout for an item to become ready,
// sleeping on the queue's notify signal between attempts.
func (q Queue) PopWait(timeout time.Duration) (*Item, bool, error) {
	in := q.inner
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		item, ok, err := q.Pop()
		if err != nil || ok {
			return item, ok, err
		}
		select {
		case <-in.notify:
		case <-in.shutdownCh:
			return nil, false, ErrShuttingDown
		case <-deadline.C:
			return nil, false, nil
		}
	}
}

// PopBatch pops up to maxItems ready items.
func (q Queue) PopBatch(maxItems int) ([]*Item, error) {
	if maxItems <= 0 {
		maxItems = q.inner.cfg.BatchSize
	}
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()

	var items []*Item
	for len(items) < maxItems {
		item, ok, err := in.popLocked()
		if err != nil {
			return items, err
		}
		if !ok {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

// MarkCompleted terminalizes a processing item, recording its duration and a
// circuit-breaker success.
func (q Queue) MarkCompleted(id string) error {
	in := q.inner
	in.mu.Lock()

	item, exists := in.itemMap[id]
	if !exists {
		in.mu.Unlock()
		return ErrItemNotFound
	}
	if item.ProcessingStartedAt > 0 {
		item.ProcessingDurationMs = in.clk.MillisSinceEpoch() - item.ProcessingStartedAt
	}
	item.Status = StatusCompleted
	delete(in.itemMap, id)
	delete(in.processing, id)
	in.completed.Add(1)
	in.mu.Unlock()

	in.breaker.RecordSuccess()
	return nil
}

// MarkFailed increments the item's retry count. If retries remain the item is
// rescheduled with exponential backoff; otherwise it is dropped as failed.
// Either way a circuit-breaker failure is recorded.
func (q Queue) MarkFailed(id string, cause string) error {
	in := q.inner
	in.mu.Lock()

	item, exists := in.itemMap[id]
	if !exists {
		in.mu.Unlock()
		return ErrItemNotFound
	}

	delete(in.processing, id)
	item.RetryCount++
	item.ProcessingStartedAt = 0
	in.failed.Add(1)

	if item.RetryCount <= item.MaxRetries {
		item.Status = StatusPending
		item.NextRetryAt = in.clk.MillisSinceEpoch() + in.retryDelayMillis(item.RetryCount)
		in.sequence++
		heap.Push(&in.heap, priorityItem{item: item, sequence: in.sequence})
		in.logger.Info("item rescheduled after failure",
			"id", id, "retry_count", item.RetryCount, "cause", cause)
	} else {
		item.Status = StatusFailed
		delete(in.itemMap, id)
		in.logger.Warn("item dropped after exhausting retries",
			"id", id, "retries", item.RetryCount, "cause", cause)
	}
	in.mu.Unlock()

	in.breaker.RecordFailure()
	return nil
}

// retryDelayMillis computes base * 2^min(retry, 10) plus 0-25% jitter, capped
// at the configured maximum.
func (in *queueInner) retryDelayMillis(retryCount int) int64 {
	exp := retryCount
	if exp > 10 {
		exp = 10
	}
	delay := in.cfg.BaseRetryDelay * (1 << exp)
	if delay > in.cfg.MaxRetryDelay {
		delay = in.cfg.MaxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	total := delay + jitter
	if total > in.cfg.MaxRetryDelay {
		total = in.cfg.MaxRetryDelay
	}
	return total.Milliseconds()
}

// CancelItem marks an item cancelled and removes it. Its heap entry becomes
// an orphan discarded by Pop or maintenance.
func (q Queue) CancelItem(id string) error {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()

	item, exists := in.itemMap[id]
	if !exists {
		return ErrItemNotFound
	}
	item.Status = StatusCancelled
	delete(in.itemMap, id)
	delete(in.processing, id)
	return nil
}

// Peek returns a copy of the next item Pop would consider, without moving it
// to processing.
func (q Queue) Peek() (*Item, bool) {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()

	for in.heap.Len() > 0 {
		top := in.heap[0]
		current, exists := in.itemMap[top.item.ID]
		if !exists || current != top.item {
			heap.Pop(&in.heap)
			continue
		}
		if _, busy := in.processing[top.item.ID]; busy {
			heap.Pop(&in.heap)
			continue
		}
		return current.clone(), true
	}
	return nil, false
}

// Size is the number of tracked items excluding those in processing.
func (q Queue) Size() int {
	in := q.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.itemMap) - len(in.processing)
}

// IsEmpty reports whether no items are tracked at all.
func (q Queue) IsEmpty() bool {
	in := q.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.itemMap) == 0
}

// GetItem returns a copy of the item with the given id.
func (q Queue) GetItem(id string) (*Item, bool) {
	in := q.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	item, ok := in.itemMap[id]
	if !ok {
		return nil, false
	}
	return item.clone(), true
}

// GetItemsByStatus returns copies of all tracked items with the status.
func (q Queue) GetItemsByStatus(status Status) []*Item {
	in := q.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	var out []*Item
	for _, item := range in.itemMap {
		if item.Status == status {
			out = append(out, item.clone())
		}
	}
	return out
}

// GetProcessingItems returns copies of all in-flight items.
func (q Queue) GetProcessingItems() []*Item {
	in := q.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]*Item, 0, len(in.processing))
	for id := range in.processing {
		if item, ok := in.itemMap[id]; ok {
			out = append(out, item.clone())
		}
	}
	return out
}

// Clear removes every item and resets the sequence counter.
func (q Queue) Clear() {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()
	in.heap = nil
	in.itemMap = make(map[string]*Item)
	in.processing = make(map[string]struct{})
	in.sequence = 0
}

// Lock enters exclusive maintenance mode; pushes and pops fail with
// ErrLocked until Unlock.
func (q Queue) Lock() {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()
	in.locked = true
}

// Unlock leaves maintenance mode.
func (q Queue) Unlock() {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()
	in.locked = false
	in.notifyOne()
}

// HealthCheck reports whether the queue accepts work: not shut down and the
// breaker admits requests.
func (q Queue) HealthCheck() bool {
	in := q.inner
	in.mu.RLock()
	down := in.shutdown
	in.mu.RUnlock()
	return !down && in.breaker.AllowsRequests()
}

// Breaker exposes the queue's circuit breaker for observability.
func (q Queue) Breaker() *resilience.CircuitBreaker {
	return q.inner.breaker
}

// Persist snapshots the current index to the persistence service. It is a
// no-op without a persistence path.
func (q Queue) Persist() error {
	in := q.inner
	if in.persister == nil {
		return nil
	}

	in.mu.RLock()
	items := make([]*Item, 0, len(in.itemMap))
	for _, item := range in.itemMap {
		items = append(items, item.clone())
	}
	in.mu.RUnlock()

	return in.persister.Save(items)
}

// Load restores a previously persisted snapshot into an empty queue. Loaded
// items get fresh sequence numbers; processing items revert to pending;
// seconds-valued timestamps are upgraded to millis.
func (q Queue) Load() (int, error) {
	in := q.inner
	if in.persister == nil {
		return 0, nil
	}
	items, err := in.persister.Load()
	if err != nil {
		return 0, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	loaded := 0
	for _, item := range items {
		if _, exists := in.itemMap[item.ID]; exists {
			continue
		}
		if item.Status == StatusProcessing {
			item.Status = StatusPending
			item.ProcessingStartedAt = 0
		}
		if item.Status.IsTerminal() {
			continue
		}
		in.pushLocked(item)
		loaded++
	}
	if loaded > 0 {
		in.notifyOne()
	}
	return loaded, nil
}

// Shutdown stops the queue: wakes waiters, halts background tasks, and runs a
// final persist. Idempotent.
func (q Queue) Shutdown() {
	in := q.inner
	in.mu.Lock()
	if in.shutdown {
		in.mu.Unlock()
		return
	}
	in.shutdown = true
	cancel := in.cancelTasks
	close(in.shutdownCh)
	in.mu.Unlock()

	if cancel != nil {
		cancel()
		in.tasks.Wait()
	}

	if in.persister != nil {
		in.mu.RLock()
		items := make([]*Item, 0, len(in.itemMap))
		for _, item := range in.itemMap {
			items = append(items, item.clone())
		}
		in.mu.RUnlock()
		if err := in.persister.Save(items); err != nil {
			in.logger.Warn("final persistence on shutdown failed", "error", err)
		}
	}
	in.logger.Info("sync queue shut down")
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Size         int
	Processing   int
	HeapLen      int
	Pushed       uint64
	Popped       uint64
	Completed    uint64
	Failed       uint64
	Deduplicated uint64
}

// QueueStats returns a snapshot of the queue's counters.
func (q Queue) QueueStats() Stats {
	in := q.inner
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Stats{
		Size:         len(in.itemMap) - len(in.processing),
		Processing:   len(in.processing),
		HeapLen:      in.heap.Len(),
		Pushed:       in.pushed.Load(),
		Popped:       in.popped.Load(),
		Completed:    in.completed.Load(),
		Failed:       in.failed.Load(),
		Deduplicated: in.deduplicated.Load(),
	}
}
