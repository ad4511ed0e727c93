package simdb

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test301_send_clog_delays_sends_until_window_passes(t *testing.T) {

	cv.Convey("after ClogSendFor(A.ip, 10), any send delay from A is at least 10 until that much virtual time passes; receive-only clogs leave pure-send timing alone", t, func() {

		s := NewSimulator(testConfig(21))
		A := s.NewProcess("A", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, "", "")
		B := s.NewProcess("B", MakeIPv4(10, 0, 1, 1), 1, locality(1), StorageClass, "", "")

		s.ClogSendFor(A.Address.IP, 10.0)

		// delays for data moving A -> B are computed with
		// from = receiving end, to = sending end.
		d := s.clogging.getSendDelay(B.Address, A.Address)
		cv.So(d, cv.ShouldBeGreaterThanOrEqualTo, 10.0)

		// a receive-only clog on another interface does not
		// touch send timing.
		C := s.NewProcess("C", MakeIPv4(10, 0, 2, 1), 1, locality(2), StorageClass, "", "")
		s.ClogRecvFor(C.Address.IP, 10.0)
		d2 := s.clogging.getSendDelay(B.Address, C.Address)
		cv.So(d2, cv.ShouldBeLessThan, 1.0)

		// the window expires with virtual time.
		var after float64
		s.Spawn(A, func() {
			panicOn(s.Delay(11.0, TaskDefaultDelay))
			after = s.clogging.getSendDelay(B.Address, A.Address)
		})
		s.Run()
		cv.So(after, cv.ShouldBeLessThan, 1.0)
	})
}

func Test302_recv_clog_extends_never_shrinks(t *testing.T) {

	cv.Convey("repeated clogs extend the blocking window to the max, never shrink it", t, func() {

		s := NewSimulator(testConfig(22))
		A := s.NewProcess("A", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, "", "")
		B := s.NewProcess("B", MakeIPv4(10, 0, 1, 1), 1, locality(1), StorageClass, "", "")
		_ = B

		s.ClogRecvFor(A.Address.IP, 10.0)
		s.ClogRecvFor(A.Address.IP, 2.0) // shorter; must not shrink
		d := s.clogging.getRecvDelay(B.Address, A.Address)
		cv.So(d, cv.ShouldBeGreaterThanOrEqualTo, 10.0)
	})
}

func Test303_clog_pair_only_affects_that_ordered_pair(t *testing.T) {

	cv.Convey("ClogPair(from, to) blocks only the ordered pair it names", t, func() {

		s := NewSimulator(testConfig(23))
		A := s.NewProcess("A", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, "", "")
		B := s.NewProcess("B", MakeIPv4(10, 0, 1, 1), 1, locality(1), StorageClass, "", "")

		s.ClogPair(B.Address.IP, A.Address.IP, 7.0)
		clogged := s.clogging.getRecvDelay(B.Address, A.Address)
		reverse := s.clogging.getRecvDelay(A.Address, B.Address)
		cv.So(clogged, cv.ShouldBeGreaterThanOrEqualTo, 7.0)
		cv.So(reverse, cv.ShouldBeLessThan, 1.0)
	})
}

func Test304_speedup_mode_skips_clogging(t *testing.T) {

	cv.Convey("speed-up mode skips every clogging term", t, func() {

		s := NewSimulator(testConfig(24))
		A := s.NewProcess("A", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, "", "")
		B := s.NewProcess("B", MakeIPv4(10, 0, 1, 1), 1, locality(1), StorageClass, "", "")

		s.ClogSendFor(A.Address.IP, 100.0)
		s.ClogRecvFor(A.Address.IP, 100.0)
		s.SetSpeedUpSimulation(true)
		cv.So(s.clogging.getSendDelay(B.Address, A.Address), cv.ShouldBeLessThan, 1.0)
		cv.So(s.clogging.getRecvDelay(B.Address, A.Address), cv.ShouldBeLessThan, 1.0)
	})
}

func Test305_clog_interface_default_mode_draw(t *testing.T) {

	cv.Convey("ClogInterface with ClogDefault picks send, receive, or both, and records a trace event", t, func() {

		s := NewSimulator(testConfig(25))
		A := s.NewProcess("A", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, "", "")

		s.ClogInterface(A.Address.IP, 5.0, ClogDefault)
		cv.So(s.Trace().Count("ClogInterface"), cv.ShouldEqual, 1)

		sendU, haveSend := s.clogging.clogSendUntil.get2(A.Address.IP)
		recvU, haveRecv := s.clogging.clogRecvUntil.get2(A.Address.IP)
		if !haveSend && !haveRecv {
			t.Fatalf("default clog mode set neither send nor receive window")
		}
		if haveSend && sendU < 5.0 {
			t.Fatalf("send window too short: %v", sendU)
		}
		if haveRecv && recvU < 5.0 {
			t.Fatalf("recv window too short: %v", recvU)
		}
	})
}
