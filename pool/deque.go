package pool

import "sync"

const minDequeSize = 16

// deque is a bounded, mutex-protected ring buffer. The owning worker pushes
// and pops at the back; thieves pop at the front.
type deque[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	size     int
	capacity int
}

func newDeque[T any](capacity int) *deque[T] {
	return &deque[T]{
		buf:      make([]T, min(capacity, minDequeSize)),
		capacity: capacity,
	}
}

// pushBack appends t. It returns false when the deque is at capacity.
func (d *deque[T]) pushBack(t T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.size >= d.capacity {
		return false
	}
	if d.size == len(d.buf) {
		d.grow()
	}
	d.buf[(d.head+d.size)%len(d.buf)] = t
	d.size++
	return true
}

func (d *deque[T]) grow() {
	next := make([]T, min(len(d.buf)*2, d.capacity))
	for i := range d.size {
		next[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = next
	d.head = 0
}

// popBack removes the newest task.
func (d *deque[T]) popBack() (t T, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.size == 0 {
		return t, false
	}
	idx := (d.head + d.size - 1) % len(d.buf)
	t = d.buf[idx]
	var zero T
	d.buf[idx] = zero
	d.size--
	return t, true
}

// popFrontAbove removes the oldest task only if more than threshold tasks
// are queued. The length check and removal happen under one lock.
func (d *deque[T]) popFrontAbove(threshold int) (t T, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.size == 0 || d.size <= threshold {
		return t, false
	}
	t = d.buf[d.head]
	var zero T
	d.buf[d.head] = zero
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return t, true
}

func (d *deque[T]) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// drain removes every queued element, oldest first.
func (d *deque[T]) drain() []T {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]T, d.size)
	var zero T
	for i := range d.size {
		idx := (d.head + i) % len(d.buf)
		out[i] = d.buf[idx]
		d.buf[idx] = zero
	}
	d.head, d.size = 0, 0
	return out
}
