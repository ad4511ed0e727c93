package simdb

import (
	"testing"
)

func TestOmapDeterministicOrder(t *testing.T) {
	m := newOmap[int, int]()
	for i := range 9 {
		m.set(8-i, 8-i)
	}
	i := 0
	for k, v := range m.all() {
		if k != i || v != i {
			t.Fatalf("expected (%v,%v), got (%v,%v)", i, i, k, v)
		}
		i++
	}
	if i != 9 {
		t.Fatalf("expected 9 elements, ranged %v", i)
	}
}

func TestOmapSetGetDelete(t *testing.T) {
	m := newOmap[string, int]()
	if !m.set("b", 2) {
		t.Fatalf("first set should report newlyAdded")
	}
	if m.set("b", 3) {
		t.Fatalf("second set should update in place")
	}
	m.set("a", 1)
	if v := m.get("b"); v != 3 {
		t.Fatalf("get(b) = %v, want 3", v)
	}
	if _, found := m.get2("zz"); found {
		t.Fatalf("get2 on missing key should not find")
	}
	if !m.delkey("a") {
		t.Fatalf("delkey(a) should find a")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %v, want 1", m.Len())
	}
	// deleting the current key mid-iteration is allowed.
	m.set("c", 4)
	for k := range m.all() {
		m.delkey(k)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty omap, Len = %v", m.Len())
	}
}
