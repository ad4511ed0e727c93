package simdb

// waitset parks fibers until some condition holder wakes
// them. Wakes go through the task queue (at the current
// virtual time, in the waker's process context), never
// directly, so every resumption is ordered by the global
// (time, sn) sequence. This mirrors how a resolved future
// runs its continuations in the resolving task's context.
type waitset struct {
	sim     *Simulator
	waiting []*task
}

// wait parks the calling fiber until wakeAll or breakAll.
func (w *waitset) wait(pri TaskPriority) error {
	t := &task{
		priority: pri,
		owner:    w.sim.current,
		resume:   make(chan error, 1),
	}
	w.waiting = append(w.waiting, t)
	return w.sim.park(t)
}

// wakeAll schedules every parked waiter at the current time,
// bound to the waker's process.
func (w *waitset) wakeAll() {
	w.wake(nil)
}

// breakAll delivers err (typically ErrBrokenPromise) to every
// parked waiter.
func (w *waitset) breakAll(err error) {
	w.wake(err)
}

func (w *waitset) wake(err error) {
	if len(w.waiting) == 0 {
		return
	}
	s := w.sim
	s.mut.Lock()
	for _, t := range w.waiting {
		s.nextSn++
		t.sn = s.nextSn
		t.when = s.now
		t.owner = s.current
		t.err = err
		s.taskQ.add(t)
	}
	s.mut.Unlock()
	w.waiting = nil
}

// asyncInt64 is a watchable integer: the connection byte
// counters. set wakes everyone blocked in onChange.
type asyncInt64 struct {
	v  int64
	ws waitset
}

func newAsyncInt64(s *Simulator, v int64) *asyncInt64 {
	return &asyncInt64{v: v, ws: waitset{sim: s}}
}

func (a *asyncInt64) get() int64 { return a.v }

func (a *asyncInt64) set(v int64) {
	if v == a.v {
		return
	}
	a.v = v
	a.ws.wakeAll()
}

// onChange parks until the next set that changes the value.
func (a *asyncInt64) onChange(pri TaskPriority) error {
	return a.ws.wait(pri)
}

// wakeAll forces a spurious wake, used when a connection
// closes and blocked readers must re-check state.
func (a *asyncInt64) wakeAll() {
	a.ws.wakeAll()
}
