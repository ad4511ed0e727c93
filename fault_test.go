package simdb

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func threeZoneCluster(seed uint64) (*Simulator, []*Process) {
	s := NewSimulator(testConfig(seed))
	var procs []*Process
	for i := range 3 {
		procs = append(procs, s.NewProcess("p", MakeIPv4(10, 0, byte(i), 1),
			4500, locality(i), StorageClass, "", ""))
	}
	return s, procs
}

func Test401_kill_two_of_three_zones_downgrades(t *testing.T) {

	cv.Convey("with tLogPolicy 'any 2 of 3 zones', killing 2 zones is non-survivable and downgrades to a reboot-class kill; killing 1 zone survives with the kill type unchanged", t, func() {

		s, procs := threeZoneCluster(31)

		// two zones dead
		survives, kt := s.CanKillProcesses(procs[:1], procs[1:], KillInstantly)
		cv.So(survives, cv.ShouldBeFalse)
		if kt != Reboot && kt != RebootAndDelete {
			t.Fatalf("expected Reboot or RebootAndDelete, got %v", kt)
		}

		// one zone dead
		survives, kt = s.CanKillProcesses(procs[:2], procs[2:], KillInstantly)
		cv.So(survives, cv.ShouldBeTrue)
		cv.So(kt, cv.ShouldEqual, KillInstantly)
	})
}

func Test402_survivable_kill_leaves_dead_set_below_policy(t *testing.T) {

	cv.Convey("after a survivable CanKillProcesses verdict is applied, the dead set validates neither the tLog nor the storage policy", t, func() {

		s, procs := threeZoneCluster(32)

		survives, kt := s.CanKillProcesses(procs[:2], procs[2:], KillInstantly)
		cv.So(survives, cv.ShouldBeTrue)
		s.KillProcess(procs[2], kt)

		var dead []*Process
		for _, p := range procs {
			if p.Failed {
				dead = append(dead, p)
			}
		}
		cv.So(len(dead), cv.ShouldEqual, 1)
		cv.So(s.cfg.TLogPolicy.Validate(localities(dead)), cv.ShouldBeFalse)
		cv.So(s.cfg.StoragePolicy.Validate(localities(dead)), cv.ShouldBeFalse)
	})
}

func Test403_anti_quorum_blocks_borderline_kills(t *testing.T) {

	cv.Convey("a non-zero tLog write anti-quorum turns a borderline-survivable kill into a downgrade", t, func() {

		s, procs := threeZoneCluster(33)
		s.cfg.TLogWriteAntiQuorum = 1

		// one zone dead + anti-quorum of one more could
		// reach the 2-zone replica team: not survivable.
		survives, kt := s.CanKillProcesses(procs[:2], procs[2:], KillInstantly)
		cv.So(survives, cv.ShouldBeFalse)
		cv.So(kt, cv.ShouldEqual, Reboot)
	})
}

func Test404_reboot_process_fires_shutdown_signal(t *testing.T) {

	cv.Convey("RebootProcess switches to the target's context, marks it rebooting, and fires its shutdown signal carrying the kill type; protected addresses downgrade delete-class reboots", t, func() {

		s, procs := threeZoneCluster(34)
		p := procs[0]
		s.ProtectAddress(p.Address)

		var sawKt KillType
		var sawClosed bool
		s.Spawn(p, func() {
			sawKt = p.WaitShutdown()
			sawClosed = true
		})
		s.RebootProcess(p, RebootProcessAndDelete)
		s.Run()

		cv.So(p.Rebooting, cv.ShouldBeTrue)
		cv.So(sawClosed, cv.ShouldBeTrue)
		cv.So(sawKt, cv.ShouldEqual, RebootProcess) // downgraded
	})
}

func Test405_kill_machine_marks_machine_dead(t *testing.T) {

	cv.Convey("a survivable hard KillMachine fails every non-Tester process in the zone and marks the machine dead", t, func() {

		s, procs := threeZoneCluster(35)
		zone := procs[0].Locality.ZoneID

		ok := s.KillMachine(zone, KillInstantly, false, false)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(procs[0].Failed, cv.ShouldBeTrue)
		cv.So(s.GetMachineByID(zone).Dead, cv.ShouldBeTrue)
		cv.So(procs[1].Failed, cv.ShouldBeFalse)
	})
}

func Test406_kill_machine_refuses_in_speedup_mode(t *testing.T) {

	cv.Convey("KillMachine refuses in speed-up mode unless forced", t, func() {

		s, procs := threeZoneCluster(36)
		zone := procs[0].Locality.ZoneID
		s.SetSpeedUpSimulation(true)

		cv.So(s.KillMachine(zone, KillInstantly, false, false), cv.ShouldBeFalse)
		cv.So(procs[0].Failed, cv.ShouldBeFalse)

		cv.So(s.KillMachine(zone, KillInstantly, false, true), cv.ShouldBeTrue)
		cv.So(procs[0].Failed, cv.ShouldBeTrue)
	})
}

func Test407_kill_datacenter_takes_down_member_zones(t *testing.T) {

	cv.Convey("KillDataCenter groups the DC's zones and applies the (possibly downgraded) kill to each", t, func() {

		s := NewSimulator(testConfig(37))
		var procs []*Process
		for i := range 4 {
			loc := locality(i)
			if i < 2 {
				loc.DCID = "dcA"
			} else {
				loc.DCID = "dcB"
			}
			procs = append(procs, s.NewProcess("p", MakeIPv4(10, 0, byte(i), 1),
				4500, loc, StorageClass, "", ""))
		}

		s.KillDataCenter("dcA", KillInstantly)
		s.Run()

		// the dead set (2 zones) already validates the
		// 2-zone policies, so the kill downgrades to
		// Reboot: dcA reboots rather than fails, and dcB
		// stays untouched.
		cv.So(procs[0].Rebooting, cv.ShouldBeTrue)
		cv.So(procs[1].Rebooting, cv.ShouldBeTrue)
		cv.So(procs[0].Failed, cv.ShouldBeFalse)
		cv.So(procs[2].Failed, cv.ShouldBeFalse)
		cv.So(procs[2].Rebooting, cv.ShouldBeFalse)
	})
}

func Test408_fault_injection_predicate_is_site_stable(t *testing.T) {

	cv.Convey("InjectFaults installs a per-process (r, p1, p2) triple and ShouldInjectFault decides by a cheap line hash, so the same site decides the same way given the same process seed", t, func() {

		s, procs := threeZoneCluster(38)
		p := procs[0]
		s.KillProcess(p, InjectFaults)
		cv.So(p.Failed, cv.ShouldBeFalse)
		cv.So(p.faultInjectionP1, cv.ShouldEqual, 0.1)

		var first, second bool
		s.Spawn(p, func() {
			// force the coin to pass: p2 == 1 means the
			// random gate always opens, isolating the
			// line-hash decision.
			p.faultInjectionP2 = 1.0
			first = s.ShouldInjectFault("x.go", 100, errorCodeIOError)
			second = s.ShouldInjectFault("x.go", 100, errorCodeIOError)
		})
		s.Run()
		cv.So(first, cv.ShouldEqual, second)
	})
}

func Test409_destroy_process_requires_failed(t *testing.T) {

	cv.Convey("DestroyProcess requires failed, removes the process from its machine, and parks it in the currently-rebooting set", t, func() {

		s, procs := threeZoneCluster(39)
		p := procs[0]
		s.KillProcess(p, KillInstantly)
		s.DestroyProcess(p)

		m := s.GetMachineByID(p.Locality.ZoneID)
		cv.So(len(m.Processes), cv.ShouldEqual, 0)
		_, parked := s.currentlyRebooting.get2(p.Address.key())
		cv.So(parked, cv.ShouldBeTrue)
	})
}
