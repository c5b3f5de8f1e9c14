package pool

import (
	"context"
	"testing"
)

func taskN(n int, out *[]int) Task {
	return func(context.Context) error {
		*out = append(*out, n)
		return nil
	}
}

func TestDequeOrder(t *testing.T) {
	d := newDeque[Task](64)
	var got []int
	for i := range 40 {
		if !d.pushBack(taskN(i, &got)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if d.len() != 40 {
		t.Fatalf("len = %d, want 40", d.len())
	}

	back, _ := d.popBack()
	front, _ := d.popFrontAbove(0)
	_ = back(context.Background())
	_ = front(context.Background())

	if got[0] != 39 || got[1] != 0 {
		t.Errorf("back/front = %v, want [39 0]", got)
	}
}

func TestDequeCapacityAndThreshold(t *testing.T) {
	d := newDeque[Task](3)
	noop := func(context.Context) error { return nil }

	for range 3 {
		if !d.pushBack(noop) {
			t.Fatal("push rejected below capacity")
		}
	}
	if d.pushBack(noop) {
		t.Error("push accepted above capacity")
	}
	if _, ok := d.popFrontAbove(3); ok {
		t.Error("steal allowed at threshold")
	}
	if _, ok := d.popFrontAbove(2); !ok {
		t.Error("steal denied above threshold")
	}
	for range 2 {
		if _, ok := d.popBack(); !ok {
			t.Error("popBack failed")
		}
	}
	if _, ok := d.popBack(); ok {
		t.Error("popBack on empty deque succeeded")
	}
}

func TestDequeWrapAround(t *testing.T) {
	d := newDeque[Task](minDequeSize)
	var got []int
	for round := range 5 {
		for i := range 10 {
			d.pushBack(taskN(round*10+i, &got))
		}
		for range 10 {
			fn, ok := d.popFrontAbove(0)
			if !ok {
				t.Fatal("unexpected empty deque")
			}
			_ = fn(context.Background())
		}
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want FIFO order", i, v)
		}
	}
}

func TestDequeDrain(t *testing.T) {
	d := newDeque[int](minDequeSize)
	for i := range 20 {
		d.pushBack(i)
	}
	_, _ = d.popFrontAbove(0)
	_, _ = d.popBack()

	got := d.drain()
	if len(got) != 18 || got[0] != 1 || got[17] != 18 {
		t.Errorf("drain = %v, want 1..18", got)
	}
	if d.len() != 0 {
		t.Errorf("len after drain = %d", d.len())
	}
	if !d.pushBack(99) {
		t.Fatal("push after drain rejected")
	}
	if v, _ := d.popBack(); v != 99 {
		t.Errorf("popBack = %d, want 99", v)
	}
}
