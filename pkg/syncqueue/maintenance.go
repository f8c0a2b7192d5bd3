package syncqueue

import "container/heap"

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	ExpiredRemoved int
	StuckReset     int
	OrphansRemoved int
	HeapLenAfter   int
	TrackedItems   int
}

// RunMaintenance performs one maintenance pass:
//  1. drop terminal items older than the retention period,
//  2. reset processing items stuck past StuckTimeout back to pending,
//  3. rebuild the heap to drop orphaned entries once it grows past
//     HeapCleanupThreshold.
func (q Queue) RunMaintenance() MaintenanceReport {
	in := q.inner
	in.mu.Lock()
	defer in.mu.Unlock()

	now := in.clk.MillisSinceEpoch()
	var report MaintenanceReport

	// 1. Retention purge of terminal items.
	cutoff := now - in.cfg.RetentionPeriod.Milliseconds()
	for id, item := range in.itemMap {
		if item.Status.IsTerminal() && item.CreatedAt < cutoff {
			delete(in.itemMap, id)
			delete(in.processing, id)
			report.ExpiredRemoved++
		}
	}

	// 2. Reset stuck processing items so they become poppable again.
	if in.cfg.StuckTimeout > 0 {
		stuckCutoff := now - in.cfg.StuckTimeout.Milliseconds()
		for id := range in.processing {
			item, ok := in.itemMap[id]
			if !ok {
				delete(in.processing, id)
				continue
			}
			if item.ProcessingStartedAt > 0 && item.ProcessingStartedAt < stuckCutoff {
				delete(in.processing, id)
				item.Status = StatusPending
				item.ProcessingStartedAt = 0
				in.sequence++
				heap.Push(&in.heap, priorityItem{item: item, sequence: in.sequence})
				in.logger.Warn("reset stuck processing item", "id", id)
				report.StuckReset++
			}
		}
	}

	// 3. Heap compaction: rebuild from live entries in one pass.
	if in.heap.Len() >= in.cfg.HeapCleanupThreshold {
		before := in.heap.Len()
		valid := in.heap[:0]
		for _, p := range in.heap {
			if current, ok := in.itemMap[p.item.ID]; ok && current == p.item {
				valid = append(valid, p)
			}
		}
		in.heap = valid
		heap.Init(&in.heap)
		report.OrphansRemoved = before - in.heap.Len()
		if report.OrphansRemoved > 0 {
			in.logger.Info("heap compaction removed orphaned entries",
				"removed", report.OrphansRemoved, "remaining", in.heap.Len())
		}
	}

	report.HeapLenAfter = in.heap.Len()
	report.TrackedItems = len(in.itemMap)
	return report
}
