package priority

import (
	"time"

	"github.com/OptikR/OptikR-sub005/task"
)

// entry is one queued value. effective starts at base and only ever
// decreases as the entry ages.
type entry[T any] struct {
	value      T
	base       task.Priority
	effective  task.Priority
	seq        uint64
	enqueuedAt time.Time
	index      int
}

// entryHeap is a min-heap ordered by (effective priority, insertion sequence).
// It implements heap.Interface.
type entryHeap[T any] []*entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].effective != h[j].effective {
		return h[i].effective < h[j].effective
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[T]) Push(x any) {
	e, ok := x.(*entry[T])
	if !ok {
		panic("entryHeap.Push: invalid type assertion")
	}
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
