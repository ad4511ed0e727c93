package simdb

import (
	"testing"
)

func TestPQOrdersByTimeThenSn(t *testing.T) {
	q := newPQ("test")
	mk := func(when float64, sn int64) *task {
		return &task{when: when, sn: sn}
	}
	// insert out of order, including equal-time entries.
	q.add(mk(2.0, 5))
	q.add(mk(1.0, 7))
	q.add(mk(1.0, 3))
	q.add(mk(0.5, 9))
	q.add(mk(2.0, 1))

	want := []struct {
		when float64
		sn   int64
	}{
		{0.5, 9}, {1.0, 3}, {1.0, 7}, {2.0, 1}, {2.0, 5},
	}
	if q.Len() != len(want) {
		t.Fatalf("Len = %v, want %v", q.Len(), len(want))
	}
	for i, w := range want {
		got := q.pop()
		if got.when != w.when || got.sn != w.sn {
			t.Fatalf("pop %v = (%v, %v), want (%v, %v)",
				i, got.when, got.sn, w.when, w.sn)
		}
	}
	if q.pop() != nil {
		t.Fatalf("expected empty queue")
	}
}

func TestPQDelete(t *testing.T) {
	q := newPQ("test")
	a := &task{when: 1, sn: 1}
	b := &task{when: 2, sn: 2}
	q.add(a)
	q.add(b)
	if !q.del(a) {
		t.Fatalf("del(a) should find a")
	}
	if q.peek() != b {
		t.Fatalf("b should remain at the head")
	}
	q.deleteAll()
	if q.Len() != 0 {
		t.Fatalf("deleteAll should empty the queue")
	}
}
