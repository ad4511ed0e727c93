package simdb

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/glycerine/idem"
)

// Simulator is the deterministic discrete-event runtime.
// One instance owns the virtual clock, the task queue, the
// process/machine registry, the connection graph, the
// simulated filesystem, and the fault controller.
//
// All simulated code runs in fibers: goroutines that execute
// one at a time, handing control back to the scheduler at
// every suspension point (Delay, Yield, OnProcess, OnMachine,
// disk waits, read/write waits). There is no preemption and
// no parallelism over simulator state, so no cross-process
// data race is possible on simulator-managed state.
type Simulator struct {
	cfg   *Config
	rng   *PRNG
	halt  *idem.Halter
	trace *Tracer

	// mut guards taskQ, now, and nextSn. It is the only
	// lock external threads contend on; fibers never race
	// each other by construction.
	mut    sync.Mutex
	taskQ  *pq
	now    float64
	nextSn int64

	current   *Process
	noMachine *Process

	// parkCh is the scheduler baton: a fiber sends on it
	// exactly once per dispatch, either when it parks at a
	// suspension point or when it finishes.
	parkCh      chan struct{}
	externWake  chan struct{}
	externCount int64 // atomic

	// yield bookkeeping; see checkYield.
	yielded    bool
	yieldLimit int

	machines           *omap[string, *Machine]
	addressMap         *omap[uint64, *Process]
	currentlyRebooting *omap[uint64, *Process]
	protectedAddresses map[uint64]bool

	clogging     *clogTable
	netStats     *netLatencyStats
	diskSpaceMap *omap[uint32, *simDiskSpace]

	speedUpSimulation        bool
	enableConnectionFailures bool
	openCount                int
	killedMachines           int

	buggifySites map[string]bool
}

func NewSimulator(cfg *Config) *Simulator {
	if cfg == nil {
		cfg = NewConfig()
	}
	s := &Simulator{
		cfg:                cfg,
		rng:                NewPRNGFromUint64(cfg.Seed),
		halt:               idem.NewHalter(),
		taskQ:              newPQ("simulator task queue"),
		parkCh:             make(chan struct{}),
		externWake:         make(chan struct{}, 1),
		machines:           newOmap[string, *Machine](),
		addressMap:         newOmap[uint64, *Process](),
		currentlyRebooting: newOmap[uint64, *Process](),
		protectedAddresses: make(map[uint64]bool),
		diskSpaceMap:       newOmap[uint32, *simDiskSpace](),
		buggifySites:       make(map[string]bool),
	}
	s.trace = newTracer(s, cfg.TraceToStdout)
	s.clogging = newClogTable(s)
	s.netStats = newNetLatencyStats()

	switch cfg.ConnectionFailures {
	case "on":
		s.enableConnectionFailures = true
	case "off":
		s.enableConnectionFailures = false
	default:
		s.enableConnectionFailures = s.rng.Float64() < 0.5
	}
	if cfg.Buggify && cfg.MaxBuggifiedDelay == 0 {
		cfg.MaxBuggifiedDelay = 0.2 * s.rng.Float64()
	}
	if cfg.Buggify && cfg.MaxCloggingLatency == 0 {
		cfg.MaxCloggingLatency = 0.1 * s.rng.Float64()
	}

	// Not letting current be nil eliminates some annoying
	// special cases in Delay and the kill paths.
	s.noMachine = &Process{
		Name:    "NoMachine",
		sim:     s,
		Globals: make(map[string]any),
	}
	s.current = s.noMachine
	s.checkYield()
	return s
}

func (s *Simulator) Config() *Config { return s.cfg }
func (s *Simulator) RNG() *PRNG      { return s.rng }
func (s *Simulator) Trace() *Tracer  { return s.trace }

// Now returns the current virtual time in seconds. It is
// non-decreasing across any two observations.
func (s *Simulator) Now() float64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.now
}

// CurrentProcess returns the process the running task is
// bound to.
func (s *Simulator) CurrentProcess() *Process {
	return s.current
}

// Stop makes Run return after the current task completes.
func (s *Simulator) Stop() {
	s.halt.ReqStop.Close()
}

// Run dispatches tasks until Stop is called or the queue
// drains with no external threads outstanding (quiescence).
// Dispatch pops the earliest task, advances virtual time to
// its scheduled time, binds the current process to the task's
// owner, and delivers its completion. Tasks whose owner has
// failed are silently dropped: the waiting fiber never
// resolves.
func (s *Simulator) Run() {
	defer s.halt.Done.Close()
	for {
		if s.halt.ReqStop.IsClosed() {
			return
		}
		s.mut.Lock()
		t := s.taskQ.pop()
		if t != nil && t.when > s.now {
			s.now = t.when
		}
		s.mut.Unlock()

		if t == nil {
			if atomic.LoadInt64(&s.externCount) > 0 {
				// a real thread is still out there and will
				// post its return point; wait for it.
				select {
				case <-s.externWake:
					continue
				case <-s.halt.ReqStop.Chan:
					return
				}
			}
			// a thread may have posted its return point and
			// exited between our pop and the count check.
			s.mut.Lock()
			n := s.taskQ.Len()
			s.mut.Unlock()
			if n > 0 {
				continue
			}
			return // quiescent
		}
		s.dispatch(t)
		s.yielded = false
	}
}

func (s *Simulator) dispatch(t *task) {
	if t.owner != nil && t.owner.Failed {
		// the owner died while this task was queued; the
		// continuation is dropped, never raising.
		taskCountDropped.Inc()
		return
	}
	s.current = t.owner
	taskCountDispatched.Inc()
	if t.spawn != nil {
		fn := t.spawn
		go func() {
			defer s.fiberDone()
			fn()
		}()
	} else {
		t.resume <- t.err
	}
	<-s.parkCh
}

// fiberDone runs when a fiber's body returns (or panics). An
// unhandled panic in simulated code kills the owning process
// instantly, mirroring how an unhandled error would take down
// a real process.
func (s *Simulator) fiberDone() {
	if r := recover(); r != nil {
		s.EventSev(SevError, "UnhandledSimulationEventError",
			"Error", fmt.Sprintf("%v", r))
		if s.current != nil && s.current != s.noMachine {
			s.killProcessInternal(s.current, KillInstantly)
		}
	}
	s.parkCh <- struct{}{}
}

// schedule inserts a fresh resume task; fiber context or
// external (mutex held briefly).
func (s *Simulator) schedule(when float64, pri TaskPriority, owner *Process) *task {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.nextSn++
	t := &task{
		sn:       s.nextSn,
		when:     when,
		priority: pri,
		owner:    owner,
		resume:   make(chan error, 1),
	}
	s.taskQ.add(t)
	return t
}

// park hands the baton back to the scheduler and blocks the
// calling fiber until t is dispatched.
func (s *Simulator) park(t *task) error {
	s.parkCh <- struct{}{}
	return <-t.resume
}

// Spawn schedules fn to run as a new fiber bound to p, at the
// current virtual time. A nil p binds to the placeholder
// process (useful for top level driver code).
func (s *Simulator) Spawn(p *Process, fn func()) {
	if p == nil {
		p = s.noMachine
	}
	s.mut.Lock()
	defer s.mut.Unlock()
	s.nextSn++
	s.taskQ.add(&task{
		sn:       s.nextSn,
		when:     s.now,
		priority: TaskDefaultDelay,
		owner:    p,
		spawn:    fn,
	})
}

// Delay suspends the calling fiber for seconds of virtual
// time on the current process. With probability 0.25 (and
// only when the target is the current, non-rebooting process
// with no shutdown pending) a buggified extra delay of
// MaxBuggifiedDelay*U(0,1)^1000 is added; the power heavily
// biases it toward tiny values.
func (s *Simulator) Delay(seconds float64, pri TaskPriority) error {
	return s.DelayOn(seconds, pri, nil)
}

// DelayOn is Delay targeting another process: the fiber
// resumes bound to proc.
func (s *Simulator) DelayOn(seconds float64, pri TaskPriority, proc *Process) error {
	if pri < TaskMinPriority || pri > TaskMaxPriority {
		panic(fmt.Sprintf("bad task priority %v", pri))
	}
	if seconds < -0.0001 {
		panic(fmt.Sprintf("negative delay %v", seconds))
	}
	seconds = math.Max(0, seconds)
	cur := s.current
	if proc == nil {
		proc = cur
	}
	if !cur.Rebooting && proc == cur && !cur.shutdownSent &&
		s.cfg.MaxBuggifiedDelay > 0 && s.rng.Float64() < 0.25 {
		seconds += s.cfg.MaxBuggifiedDelay * math.Pow(s.rng.Float64(), 1000.0)
	}
	t := s.schedule(s.now+seconds, pri, proc)
	return s.park(t)
}

// DelayUntil suspends until virtual time tm, with no
// buggification.
func (s *Simulator) DelayUntil(tm float64, pri TaskPriority) error {
	when := math.Max(tm, s.now)
	t := s.schedule(when, pri, s.current)
	return s.park(t)
}

// OnProcess rebinds the calling fiber to p with zero delay.
// Code crossing process boundaries must do so via OnProcess
// or OnMachine.
func (s *Simulator) OnProcess(p *Process, pri TaskPriority) error {
	return s.DelayOn(0, pri, p)
}

// OnMachine rebinds the calling fiber to p's machine process,
// the hidden process that owns machine scoped work such as
// non-durable file operations.
func (s *Simulator) OnMachine(p *Process, pri TaskPriority) error {
	if p.Machine == nil {
		return nil
	}
	return s.DelayOn(0, pri, p.Machine.MachineProcess)
}

// Never parks the calling fiber forever, modeling an
// operation that will not resolve.
func (s *Simulator) Never() {
	t := &task{resume: make(chan error, 1)}
	s.park(t)
	panic("resumed a Never task")
}

// Yield returns immediately most of the time. An internal
// counter (reset to U(1,150)) forces a true yield point every
// so often to prevent unbounded synchronous runs; BUGGIFY
// adds an independent ~1% chance.
func (s *Simulator) Yield(pri TaskPriority) error {
	if s.checkYield() {
		d := 0.001
		if s.current.Rebooting {
			// don't prevent instantaneous shutdown of
			// rebooted machines.
			d = 0
		}
		return s.Delay(d, pri)
	}
	return nil
}

func (s *Simulator) checkYield() bool {
	if s.yielded {
		return true
	}
	s.yieldLimit--
	if s.yieldLimit <= 0 {
		// if yield returned false too many times in a row
		// we could overflow a real stack; force one.
		s.yieldLimit = s.rng.IntRange(1, 150)
		s.yielded = true
		return true
	}
	s.yielded = s.buggifyWithProb(0.01)
	return s.yielded
}

// SetSpeedUpSimulation removes simulated latency and clogging
// to finish a workload faster at the cost of realism.
func (s *Simulator) SetSpeedUpSimulation(on bool) {
	s.speedUpSimulation = on
}

func (s *Simulator) SpeedUpSimulation() bool { return s.speedUpSimulation }

func (s *Simulator) SetEnableConnectionFailures(on bool) {
	s.enableConnectionFailures = on
}

// buggify gates a per-call-site bug-finding path: a site is
// active with probability 0.25, decided once on first
// evaluation, and an active site fires with probability 0.25
// per evaluation.
func (s *Simulator) buggify() bool {
	return s.buggifyWithProbAt(fileLine(2), 0.25)
}

func (s *Simulator) buggifyWithProb(prob float64) bool {
	return s.buggifyWithProbAt(fileLine(2), prob)
}

func (s *Simulator) buggifyWithProbAt(site string, prob float64) bool {
	if !s.cfg.Buggify {
		return false
	}
	enabled, ok := s.buggifySites[site]
	if !ok {
		enabled = s.rng.Float64() < 0.25
		s.buggifySites[site] = enabled
	}
	if !enabled {
		return false
	}
	return s.rng.Float64() < prob
}

// ThreadHandle represents a real OS thread started for code
// that must perform blocking native calls. The external
// thread executes outside virtual time; only its return
// point, posted via OnMainThread, is ordered.
type ThreadHandle struct {
	sim  *Simulator
	proc *Process
	halt *idem.Halter
}

// StartThread launches fn on a real goroutine, remembering
// the spawning process so that callbacks posted via
// OnMainThread re-enter the scheduler bound to it.
func (s *Simulator) StartThread(fn func(th *ThreadHandle)) *ThreadHandle {
	th := &ThreadHandle{
		sim:  s,
		proc: s.current,
		halt: idem.NewHalter(),
	}
	atomic.AddInt64(&s.externCount, 1)
	go func() {
		defer func() {
			atomic.AddInt64(&s.externCount, -1)
			th.halt.Done.Close()
			select {
			case s.externWake <- struct{}{}:
			default:
			}
		}()
		fn(th)
	}()
	return th
}

// Done closes when the thread body has returned.
func (th *ThreadHandle) Done() <-chan struct{} {
	return th.halt.Done.Chan
}

// OnMainThread posts fn into the task queue as a new fiber
// bound to the spawning process. Safe to call from the
// external thread.
func (th *ThreadHandle) OnMainThread(pri TaskPriority, fn func()) {
	if pri < TaskMinPriority || pri > TaskMaxPriority {
		panic(fmt.Sprintf("bad task priority %v", pri))
	}
	s := th.sim
	s.mut.Lock()
	s.nextSn++
	s.taskQ.add(&task{
		sn:       s.nextSn,
		when:     s.now,
		priority: pri,
		owner:    th.proc,
		spawn:    fn,
	})
	s.mut.Unlock()
	select {
	case s.externWake <- struct{}{}:
	default:
	}
}
