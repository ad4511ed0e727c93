package simdb

import (
	"math"
)

// ClogMode selects which side of an interface ClogInterface
// blocks.
type ClogMode int

const (
	ClogDefault ClogMode = iota
	ClogSend
	ClogReceive
	ClogAll
)

func pairKey(from, to uint32) uint64 {
	return uint64(from)<<32 | uint64(to)
}

// clogTable models bounded send/receive blocking windows per
// IP and per ordered IP pair, plus the one-time permanent
// baseline latency of each ordered pair, set on first
// observation.
type clogTable struct {
	sim *Simulator

	clogSendUntil   *omap[uint32, float64]
	clogRecvUntil   *omap[uint32, float64]
	clogPairUntil   *omap[uint64, float64]
	clogPairLatency *omap[uint64, float64]
}

func newClogTable(s *Simulator) *clogTable {
	return &clogTable{
		sim:             s,
		clogSendUntil:   newOmap[uint32, float64](),
		clogRecvUntil:   newOmap[uint32, float64](),
		clogPairUntil:   newOmap[uint64, float64](),
		clogPairLatency: newOmap[uint64, float64](),
	}
}

// halfLatency is half of one network hop: with probability
// 0.999 a fast draw mixing MinNetworkLatency into
// FastNetworkLatency (0.5ms average), else the long tail up
// to SlowNetworkLatency.
func (c *clogTable) halfLatency() float64 {
	s := c.sim
	a := s.rng.Float64()
	const pFast = 0.999
	if a <= pFast {
		a = a / pFast
		return 0.5 * (s.cfg.MinNetworkLatency*(1-a) + s.cfg.FastNetworkLatency/pFast*a)
	}
	a = (a - pFast) / (1 - pFast) // uniform 0-1 again
	return 0.5 * (s.cfg.MinNetworkLatency*(1-a) + s.cfg.SlowNetworkLatency*a)
}

// getSendDelay returns the sending-side delay for a byte
// batch moving from -> to, including any active send-clog
// window on the sending interface. Clogging is skipped in
// speed-up mode.
func (c *clogTable) getSendDelay(from, to NetworkAddress) float64 {
	tnow := c.sim.now
	t := tnow + c.halfLatency()
	if !c.sim.speedUpSimulation {
		if u, ok := c.clogSendUntil.get2(to.IP); ok && u > t {
			t = u
		}
	}
	return t - tnow
}

// getRecvDelay returns the receiving-side delay: half a hop
// plus the permanent pair latency plus any active pair or
// receive clog windows.
func (c *clogTable) getRecvDelay(from, to NetworkAddress) float64 {
	pair := pairKey(from.IP, to.IP)
	tnow := c.sim.now
	t := tnow + c.halfLatency()
	if !c.sim.speedUpSimulation {
		t += c.clogPairLatency.get(pair)
		if u, ok := c.clogPairUntil.get2(pair); ok && u > t {
			t = u
		}
		if u, ok := c.clogRecvUntil.get2(to.IP); ok && u > t {
			t = u
		}
	}
	return t - tnow
}

// setPairLatencyIfNotSet fixes the permanent baseline latency
// of the ordered pair (from, to) on first observation and
// returns it.
func (c *clogTable) setPairLatencyIfNotSet(from, to uint32, t float64) float64 {
	pair := pairKey(from, to)
	if cur, ok := c.clogPairLatency.get2(pair); ok {
		return cur
	}
	c.clogPairLatency.set(pair, t)
	return t
}

func (c *clogTable) clogSendFor(ip uint32, seconds float64) {
	u, _ := c.clogSendUntil.get2(ip)
	c.clogSendUntil.set(ip, math.Max(u, c.sim.now+seconds))
}

func (c *clogTable) clogRecvFor(ip uint32, seconds float64) {
	u, _ := c.clogRecvUntil.get2(ip)
	c.clogRecvUntil.set(ip, math.Max(u, c.sim.now+seconds))
}

func (c *clogTable) clogPairFor(from, to uint32, seconds float64) {
	pair := pairKey(from, to)
	u, _ := c.clogPairUntil.get2(pair)
	c.clogPairUntil.set(pair, math.Max(u, c.sim.now+seconds))
}

// ClogSendFor blocks sends touching ip for seconds of virtual
// time (extends, never shrinks, an active window).
func (s *Simulator) ClogSendFor(ip uint32, seconds float64) {
	s.clogging.clogSendFor(ip, seconds)
}

// ClogRecvFor blocks receives touching ip for seconds of
// virtual time.
func (s *Simulator) ClogRecvFor(ip uint32, seconds float64) {
	s.clogging.clogRecvFor(ip, seconds)
}

// ClogPair blocks the ordered pair (from, to) for seconds of
// virtual time.
func (s *Simulator) ClogPair(from, to uint32, seconds float64) {
	s.clogging.clogPairFor(from, to, seconds)
}

// ClogInterface clogs ip in the given mode; ClogDefault picks
// send (p=0.3), receive (p=0.3), else both.
func (s *Simulator) ClogInterface(ip uint32, seconds float64, mode ClogMode) {
	if mode == ClogDefault {
		a := s.rng.Float64()
		switch {
		case a < 0.3:
			mode = ClogSend
		case a < 0.6:
			mode = ClogReceive
		default:
			mode = ClogAll
		}
	}
	queue := "All"
	if mode == ClogSend {
		queue = "Send"
	} else if mode == ClogReceive {
		queue = "Receive"
	}
	s.Event("ClogInterface", "IP", ipString(ip),
		"Delay", fmtFloat(seconds), "Queue", queue)

	if mode == ClogSend || mode == ClogAll {
		s.clogging.clogSendFor(ip, seconds)
	}
	if mode == ClogReceive || mode == ClogAll {
		s.clogging.clogRecvFor(ip, seconds)
	}
}
