package simdb

import (
	"cmp"
	"fmt"
	"iter"

	rb "github.com/glycerine/rbtree"
)

// omap is a deterministic map: unlike Go's builtin map, an
// omap can be range iterated in a repeatable (sorted) order.
// This is critical for the simulator; any map whose iteration
// order can leak into the schedule must be an omap, or two
// runs with the same seed will diverge.
//
// Like the built-in map, omap does no internal locking. The
// whole simulation is cooperatively scheduled, so none is
// needed.
//
// get/set/delete are O(log n) per the underlying red-black
// tree. Iteration pre-advances so the current key may be
// deleted mid range.
type omap[K cmp.Ordered, V any] struct {
	tree *rb.Tree
}

type okv[K cmp.Ordered, V any] struct {
	key K
	val V
}

func newOmap[K cmp.Ordered, V any]() *omap[K, V] {
	return &omap[K, V]{
		tree: rb.NewTree(func(a, b rb.Item) int {
			ak := a.(*okv[K, V]).key
			bk := b.(*okv[K, V]).key
			return cmp.Compare(ak, bk)
		}),
	}
}

// Len returns the number of keys stored in the omap.
func (s *omap[K, V]) Len() int {
	return s.tree.Len()
}

func (s *omap[K, V]) String() (r string) {
	r = "omap{"
	sep := ""
	for k, v := range s.all() {
		r += fmt.Sprintf("%v%v:%v", sep, k, v)
		sep = ", "
	}
	r += "}"
	return
}

// set is an upsert. It does an insert if the key is
// not already present, returning newlyAdded true;
// otherwise it updates the current key's value in place.
func (s *omap[K, V]) set(key K, val V) (newlyAdded bool) {
	query := &okv[K, V]{key: key, val: val}
	it, found := s.tree.FindGE_isEqual(query)
	if found {
		prev := it.Item().(*okv[K, V])
		prev.val = val
		return
	}
	newlyAdded = true
	s.tree.InsertGetIt(query)
	return
}

// get2 returns the val corresponding to key; found is
// false iff the key was not present.
func (s *omap[K, V]) get2(key K) (val V, found bool) {
	query := &okv[K, V]{key: key}
	it, found := s.tree.FindGE_isEqual(query)
	if found {
		val = it.Item().(*okv[K, V]).val
	}
	return
}

// get does get2 but without the found flag.
func (s *omap[K, V]) get(key K) (val V) {
	val, _ = s.get2(key)
	return
}

// delkey deletes a key from the omap, if present.
func (s *omap[K, V]) delkey(key K) (found bool) {
	query := &okv[K, V]{key: key}
	it, found := s.tree.FindGE_isEqual(query)
	if found {
		s.tree.DeleteWithIterator(it)
	}
	return
}

// deleteAll clears the tree in O(1) time.
func (s *omap[K, V]) deleteAll() {
	s.tree.DeleteAll()
}

// all iterates key order ascending. We advance before
// yielding so user code can delete the current key.
func (s *omap[K, V]) all() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := s.tree.Min()
		for !it.Limit() {
			kv := it.Item().(*okv[K, V])
			it = it.Next()
			if !yield(kv.key, kv.val) {
				return
			}
		}
	}
}
