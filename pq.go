package simdb

import (
	rb "github.com/glycerine/rbtree"
)

// pq is the scheduler's priority queue of tasks, a red-black
// tree ordered by (when, sn). The tree, unlike a binary heap,
// gives us deterministic iteration order for snapshots and
// deletes from the middle; determinism matters more here than
// the small constant factor.
type pq struct {
	owner string
	tree  *rb.Tree
}

// order by task.when, then task.sn. The sn tie-break gives
// strict FIFO among tasks scheduled for the same virtual time.
func newPQ(owner string) *pq {
	cmp := func(a, b rb.Item) int {
		av := a.(*task)
		bv := b.(*task)
		if av == bv {
			return 0 // points to same memory (or both nil)
		}
		if av == nil {
			// sort nils to the front so they get popped
			// and GC-ed sooner.
			return -1
		}
		if bv == nil {
			return 1
		}
		if av.when < bv.when {
			return -1
		}
		if av.when > bv.when {
			return 1
		}
		if av.sn < bv.sn {
			return -1
		}
		if av.sn > bv.sn {
			return 1
		}
		// must be the same if same sn.
		return 0
	}
	return &pq{
		owner: owner,
		tree:  rb.NewTree(cmp),
	}
}

func (s *pq) Len() int {
	return s.tree.Len()
}

func (s *pq) peek() *task {
	if s.tree.Len() == 0 {
		return nil
	}
	it := s.tree.Min()
	if it.Limit() {
		panic("Len > 0 above, how is this possible?")
	}
	return it.Item().(*task)
}

func (s *pq) pop() *task {
	if s.tree.Len() == 0 {
		return nil
	}
	it := s.tree.Min()
	if it.Limit() {
		panic("Len > 0 above, how is this possible?")
	}
	top := it.Item().(*task)
	s.tree.DeleteWithIterator(it)
	return top
}

func (s *pq) add(t *task) {
	if t == nil {
		panic("do not put nil into pq!")
	}
	s.tree.InsertGetIt(t)
}

func (s *pq) del(t *task) (found bool) {
	if t == nil {
		panic("cannot delete nil task!")
	}
	it, found := s.tree.FindGE_isEqual(t)
	if !found {
		return
	}
	s.tree.DeleteWithIterator(it)
	return
}

func (s *pq) deleteAll() {
	s.tree.DeleteAll()
}
