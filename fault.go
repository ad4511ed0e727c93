package simdb

import (
	"fmt"
	"math"
)

// KillType orders the kill actions least to most destructive.
// The enumeration values are wire-stable. Under this
// ordering kt < RebootAndDelete separates the non-delete
// kinds from the delete kinds; hardKill picks out the kinds
// that fail a process outright.
type KillType int

const (
	KillInstantly KillType = iota
	InjectFaults
	RebootProcess
	Reboot
	RebootAndDelete
	RebootProcessAndDelete
)

func (kt KillType) String() string {
	switch kt {
	case KillInstantly:
		return "KillInstantly"
	case InjectFaults:
		return "InjectFaults"
	case RebootProcess:
		return "RebootProcess"
	case Reboot:
		return "Reboot"
	case RebootAndDelete:
		return "RebootAndDelete"
	case RebootProcessAndDelete:
		return "RebootProcessAndDelete"
	}
	return fmt.Sprintf("KillType(%d)", int(kt))
}

// destructive reports whether kt is one of the kinds that
// CanKillProcesses gates.
func (kt KillType) destructive() bool {
	switch kt {
	case KillInstantly, InjectFaults, RebootAndDelete, RebootProcessAndDelete:
		return true
	}
	return false
}

// CanKillProcesses decides whether the cluster survives
// turning the dead set off, given the configured tLog and
// storage replication policies. It returns the (possibly
// downgraded) kill type to apply. Only destructive kinds are
// gated; other kinds pass through unchanged.
func (s *Simulator) CanKillProcesses(available, dead []*Process, kt KillType) (canSurvive bool, newKt KillType) {
	canSurvive = true
	newKt = kt
	if !kt.destructive() {
		return
	}
	tLogPolicy := s.cfg.TLogPolicy
	storagePolicy := s.cfg.StoragePolicy
	if tLogPolicy == nil || storagePolicy == nil {
		panic("CanKillProcesses requires Config.TLogPolicy and Config.StoragePolicy")
	}
	left := localities(available)
	gone := localities(dead)

	switch {
	case tLogPolicy.Validate(gone):
		// the dead set alone holds a full tLog replica
		// team; killing it would lose data. Reboot instead.
		newKt = Reboot
		canSurvive = false
		s.EventSev(SevWarn, "KillChanged", "KillType", kt.String(),
			"NewKillType", newKt.String(), "TLogPolicy", tLogPolicy.Info(),
			"ProcessesLeft", fmt.Sprint(len(available)),
			"ProcessesDead", fmt.Sprint(len(dead)),
			"DeadZones", describeZones(gone),
			"DeadDataHalls", describeDataHalls(gone),
			"Reason", "tLogPolicy validates against dead processes.")
	case storagePolicy.Validate(gone):
		newKt = Reboot
		canSurvive = false
		s.EventSev(SevWarn, "KillChanged", "KillType", kt.String(),
			"NewKillType", newKt.String(), "StoragePolicy", storagePolicy.Info(),
			"ProcessesLeft", fmt.Sprint(len(available)),
			"ProcessesDead", fmt.Sprint(len(dead)),
			"DeadZones", describeZones(gone),
			"DeadDataHalls", describeDataHalls(gone),
			"Reason", "storagePolicy validates against dead processes.")
	case s.cfg.TLogWriteAntiQuorum > 0 &&
		!validateAllCombinations(gone, tLogPolicy, left, s.cfg.TLogWriteAntiQuorum):
		newKt = Reboot
		canSurvive = false
		s.EventSev(SevWarn, "KillChanged", "KillType", kt.String(),
			"NewKillType", newKt.String(),
			"AntiQuorum", fmt.Sprint(s.cfg.TLogWriteAntiQuorum),
			"Reason", "tLog anti-quorum does not validate against dead processes.")
	case kt != RebootAndDelete && kt != RebootProcessAndDelete &&
		!tLogPolicy.Validate(left):
		if s.rng.Float64() < 0.33 {
			newKt = RebootAndDelete
		} else {
			newKt = Reboot
		}
		canSurvive = false
		s.EventSev(SevWarn, "KillChanged", "KillType", kt.String(),
			"NewKillType", newKt.String(), "TLogPolicy", tLogPolicy.Info(),
			"RemainingZones", describeZones(left),
			"Reason", "tLogPolicy does not validate against remaining processes.")
	case kt != RebootAndDelete && kt != RebootProcessAndDelete &&
		!storagePolicy.Validate(left):
		if s.rng.Float64() < 0.33 {
			newKt = RebootAndDelete
		} else {
			newKt = Reboot
		}
		canSurvive = false
		s.EventSev(SevWarn, "KillChanged", "KillType", kt.String(),
			"NewKillType", newKt.String(), "StoragePolicy", storagePolicy.Info(),
			"RemainingZones", describeZones(left),
			"Reason", "storagePolicy does not validate against remaining processes.")
	default:
		s.Event("CanSurviveKills", "KillType", kt.String(),
			"ProcessesLeft", fmt.Sprint(len(available)),
			"ProcessesDead", fmt.Sprint(len(dead)),
			"TLogPolicy", tLogPolicy.Info(),
			"StoragePolicy", storagePolicy.Info())
	}
	return
}

func (s *Simulator) killProcessInternal(p *Process, kt KillType) {
	switch kt {
	case KillInstantly:
		s.EventSev(SevWarn, "FailMachine", "Name", p.Name,
			"Address", p.Address.String(), "ZoneId", p.Locality.ZoneID)
		// drop the "tracked" latest events that came from
		// the process being killed.
		s.trace.ClearLatest()
		p.Failed = true
		killCount.Inc()
	case InjectFaults:
		s.EventSev(SevWarn, "FaultMachine", "Name", p.Name,
			"Address", p.Address.String(), "ZoneId", p.Locality.ZoneID)
		p.faultInjectionR = s.rng.Uint64()
		p.faultInjectionP1 = 0.1
		p.faultInjectionP2 = s.rng.Float64()
	default:
		panic(fmt.Sprintf("killProcessInternal: bad kill type %v", kt))
	}
}

// hardKill: the kinds that fail a process outright rather
// than delivering a shutdown signal.
func (kt KillType) hardKill() bool {
	return kt == KillInstantly || kt == InjectFaults
}

// KillProcess applies kt to a single process: hard kinds fail
// it (or install fault injection); plain reboot kinds
// delegate to RebootProcess; delete-class kinds are ignored
// here (machine level only).
func (s *Simulator) KillProcess(p *Process, kt KillType) {
	s.Event("AttemptingKillProcess", "Name", p.Name, "KillType", kt.String())
	if kt.hardKill() {
		s.killProcessInternal(p, kt)
		s.killedMachines++
	} else if kt < RebootAndDelete {
		s.RebootProcess(p, kt)
	}
}

// KillInterface hard kills every process in the zone that
// owns addr.
func (s *Simulator) KillInterface(addr NetworkAddress, kt KillType) {
	if kt.hardKill() {
		machine := s.GetProcessByAddress(addr).Machine
		for _, p := range machine.Processes {
			s.killProcessInternal(p, kt)
		}
		s.killedMachines++
	}
}

// RebootProcess delivers a reboot-class kill to p: switches
// to p's context, marks it rebooting, and fires its shutdown
// signal carrying kt. Idempotent if already rebooting.
// RebootProcessAndDelete is downgraded to RebootProcess for
// protected addresses.
func (s *Simulator) RebootProcess(p *Process, kt KillType) {
	if kt == RebootProcessAndDelete && s.protectedAddresses[p.Address.key()] {
		kt = RebootProcess
	}
	s.Spawn(p, func() {
		s.doReboot(p, kt)
	})
}

// RebootProcessByZone reboots every non-rebooting process in
// the zone, or, with allProcesses false, one of them chosen
// at random.
func (s *Simulator) RebootProcessByZone(zoneID string, allProcesses bool) {
	procs := s.GetAllProcesses()
	if allProcesses {
		for _, p := range procs {
			if p.Locality.ZoneID == zoneID && !p.Rebooting {
				q := p
				s.Spawn(q, func() { s.doReboot(q, RebootProcess) })
			}
		}
		return
	}
	var candidates []*Process
	for _, p := range procs {
		if p.Locality.ZoneID == zoneID && !p.Rebooting {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) > 0 {
		q := candidates[s.rng.IntRange(0, len(candidates))]
		s.Spawn(q, func() { s.doReboot(q, RebootProcess) })
	}
}

// doReboot runs in p's context.
func (s *Simulator) doReboot(p *Process, kt KillType) {
	switch kt {
	case RebootProcess, Reboot, RebootAndDelete, RebootProcessAndDelete:
	default:
		panic(fmt.Sprintf("doReboot: bad kill type %v", kt))
	}
	if p.Rebooting {
		return
	}
	s.Event("RebootingMachine", "KillType", kt.String(),
		"Address", p.Address.String(), "ZoneId", p.Locality.ZoneID,
		"DataHall", p.Locality.DataHallID)
	p.Rebooting = true
	p.ShutdownKT = kt
	p.shutdownSent = true
	p.ShutdownSignal.Close()
	p.shutdownWS.wakeAll()
}

// KillMachine applies kt to every non-Tester process in the
// zone, gated by CanKillProcesses over the partition the kill
// induces. It refuses in speed-up mode unless forced, and
// aborts a reboot-class kill when not all of the machine's
// processes are currently running (partial-reboot guard),
// unless killIsSafe.
func (s *Simulator) KillMachine(zoneID string, kt KillType, killIsSafe, forceKill bool) bool {
	ktOrig := kt
	if killIsSafe && kt != RebootAndDelete {
		panic("killIsSafe only supported for RebootAndDelete so far")
	}
	if s.speedUpSimulation && !forceKill {
		return false
	}
	machine, ok := s.machines.get2(zoneID)
	if !ok {
		panic(fmt.Sprintf("KillMachine: unknown zone '%v'", zoneID))
	}

	// reboot if any of the processes are protected, and
	// count the processes not rebooting.
	processesOnMachine := 0
	for _, p := range machine.Processes {
		if s.protectedAddresses[p.Address.key()] {
			kt = Reboot
		}
		if !p.Rebooting {
			processesOnMachine++
		}
	}

	if kt.destructive() {
		var processesLeft, processesDead []*Process
		for _, m := range s.machines.all() {
			for _, p := range m.Processes {
				// datahall is not set for test processes.
				if p.Class == TesterClass {
					continue
				}
				if p.Failed || m.Dead || m.ZoneID == zoneID {
					processesDead = append(processesDead, p)
				} else {
					processesLeft = append(processesLeft, p)
				}
			}
		}
		canSurvive, newKt := s.CanKillProcesses(processesLeft, processesDead, kt)
		if !canSurvive {
			kt = newKt
			if kt != Reboot && !killIsSafe {
				kt = Reboot
			}
			s.EventSev(SevWarn, "ChangedKillMachine", "ZoneId", zoneID,
				"KillType", kt.String(), "OrigKillType", ktOrig.String(),
				"ProcessesLeft", fmt.Sprint(len(processesLeft)),
				"ProcessesDead", fmt.Sprint(len(processesDead)))
		} else if kt == KillInstantly || kt == InjectFaults {
			s.Event("DeadMachine", "ZoneId", zoneID, "KillType", kt.String(),
				"ProcessesLeft", fmt.Sprint(len(processesLeft)),
				"ProcessesDead", fmt.Sprint(len(processesDead)))
			machine.Dead = true
		} else {
			s.Event("ClearMachine", "ZoneId", zoneID, "KillType", kt.String())
		}
	}

	// partial reboot guard.
	if s.cfg.ProcessesPerMachine > 0 &&
		processesOnMachine != s.cfg.ProcessesPerMachine &&
		!kt.hardKill() && !killIsSafe {
		s.EventSev(SevWarn, "AbortedReboot", "ZoneId", zoneID,
			"Reason", "The target did not have all of its processes running.",
			"Processes", fmt.Sprint(processesOnMachine),
			"ProcessesPerMachine", fmt.Sprint(s.cfg.ProcessesPerMachine))
		return false
	}

	s.Event("KillMachine", "ZoneId", zoneID, "Kt", kt.String(),
		"KtOrig", ktOrig.String(), "KillIsSafe", fmt.Sprint(killIsSafe))
	if kt.hardKill() {
		for _, p := range machine.Processes {
			if p.Class != TesterClass {
				s.killProcessInternal(p, kt)
			}
		}
		s.killedMachines++
	} else {
		for _, p := range machine.Processes {
			if p.Class != TesterClass {
				q := p
				s.Spawn(q, func() { s.doReboot(q, kt) })
			}
		}
	}
	return true
}

// KillDataCenter groups the DC's processes by zone, gates the
// action with CanKillProcesses over the implied partition,
// then invokes KillMachine for every zone in the DC.
func (s *Simulator) KillDataCenter(dcID string, kt KillType) {
	ktOrig := kt
	procs := s.GetAllProcesses()
	datacenterZones := newOmap[string, int]()
	dcProcesses := 0
	for _, p := range procs {
		if p.Locality.DCID != "" && p.Locality.DCID == dcID {
			if s.protectedAddresses[p.Address.key()] {
				kt = Reboot
			}
			n, _ := datacenterZones.get2(p.Locality.ZoneID)
			datacenterZones.set(p.Locality.ZoneID, n+1)
			dcProcesses++
		}
	}

	if kt.destructive() {
		var processesLeft, processesDead []*Process
		for _, m := range s.machines.all() {
			inDC := false
			if _, ok := datacenterZones.get2(m.ZoneID); ok {
				inDC = true
			}
			for _, p := range m.Processes {
				if p.Class == TesterClass {
					continue
				}
				if p.Failed || m.Dead || inDC {
					processesDead = append(processesDead, p)
				} else {
					processesLeft = append(processesLeft, p)
				}
			}
		}
		canSurvive, newKt := s.CanKillProcesses(processesLeft, processesDead, kt)
		if !canSurvive {
			kt = newKt
			s.EventSev(SevWarn, "DcKillChanged", "DataCenter", dcID,
				"KillType", ktOrig.String(), "NewKillType", kt.String())
		} else {
			s.Event("DeadDataCenter", "DataCenter", dcID, "KillType", kt.String(),
				"DcZones", fmt.Sprint(datacenterZones.Len()),
				"DcProcesses", fmt.Sprint(dcProcesses))
		}
	}

	for zone := range datacenterZones.all() {
		s.KillMachine(zone, kt, kt == RebootAndDelete, true)
	}
}

// ShouldInjectFault is the runtime fault-injection predicate
// consulted at designated inject points. It is site-stable:
// the same (line, per-process seed) pair decides the same way
// on every run, so injected errors reproduce.
func (s *Simulator) ShouldInjectFault(file string, line int, errorCode int) bool {
	p := s.current
	if p.faultInjectionP2 == 0 {
		return false
	}
	if s.rng.Float64() >= p.faultInjectionP2 {
		return false
	}
	if s.speedUpSimulation {
		return false
	}
	h1 := uint32(uint64(line) + (p.faultInjectionR >> 32))
	if float64(h1) < p.faultInjectionP1*float64(math.MaxUint32) {
		s.EventSev(SevWarn, "FaultInjected", "File", file,
			"Line", fmt.Sprint(line), "ErrorCode", fmt.Sprint(errorCode))
		return true
	}
	return false
}
