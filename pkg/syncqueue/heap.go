package syncqueue

// priorityItem pairs an item with a monotonic sequence number so heap order
// is a stable total order: priority descending, then sequence ascending.
type priorityItem struct {
	item     *Item
	sequence uint64
}

// itemHeap implements container/heap as a max-heap on (priority, -sequence).
type itemHeap []priorityItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(priorityItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = priorityItem{}
	*h = old[:n-1]
	return it
}
