package simdb

// TaskPriority tags every scheduling call. The scheduler
// range-checks it and stores it on the task, but dispatch
// order is governed solely by (time, stable sequence number);
// priority is advisory and nothing orders or selects by it.
type TaskPriority int

const (
	TaskMinPriority         TaskPriority = 0
	TaskDefaultYield        TaskPriority = 7000
	TaskDefaultDelay        TaskPriority = 7010
	TaskDefaultOnMainThread TaskPriority = 7500
	TaskDiskIOComplete      TaskPriority = 9150
	TaskRunLoop             TaskPriority = 30000
	TaskMaxPriority         TaskPriority = 1000000
)

// task is the unit of scheduling. Ordering in the queue is
// ascending by when, ties broken by ascending sn (strict FIFO
// among equal-time tasks). sn is assigned at insertion and
// only ever increases.
//
// A task either resumes a parked fiber (resume != nil) or
// starts a new one (spawn != nil). If the owner process has
// failed by the time the task is dispatched, the task is
// silently dropped and the parked fiber never resolves.
type task struct {
	sn       int64
	when     float64
	priority TaskPriority
	owner    *Process

	spawn  func()
	resume chan error
	err    error
}
