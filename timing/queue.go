package timing

import (
	"container/heap"
	"time"
)

type event struct {
	time      VTimeInNs
	fifoID    uint64
	eventType *EventType
	period    time.Duration
}

// eventHeap is a min-heap on (time, fifoID). Equal times keep scheduling
// order.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}

	return h[i].fifoID < h[j].fifoID
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x any) {
	evt := x.(*event)
	*h = append(*h, evt)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	evt := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return evt
}

func (h *eventHeap) push(evt *event) {
	heap.Push(h, evt)
}

func (h *eventHeap) pop() *event {
	return heap.Pop(h).(*event)
}

func (h eventHeap) peek() (*event, bool) {
	if len(h) == 0 {
		return nil, false
	}

	return h[0], true
}

// removeIf drops every entry matching pred and restores the heap. It returns
// the number of entries removed.
func (h *eventHeap) removeIf(pred func(*event) bool) int {
	old := *h
	kept := old[:0]

	for _, evt := range old {
		if !pred(evt) {
			kept = append(kept, evt)
		}
	}

	removed := len(old) - len(kept)
	if removed == 0 {
		return 0
	}

	for i := len(kept); i < len(old); i++ {
		old[i] = nil
	}

	*h = kept
	heap.Init(h)

	return removed
}
