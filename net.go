package simdb

// Connect opens a simulated connection from the current
// process to toAddr. If no process is listening there yet we
// poll every 100*U(0,1) ms of virtual time until one appears
// (processes that don't exist yet must still be connectable).
//
// The peer's view of us gets a synthesized listen address
// with a perturbed IP and an ephemeral port, modeling NAT and
// ephemeral-port visibility. If the peer end has already gone
// by the time the connect delay elapses, half the time the
// connect never resolves, modeling a dropped SYN.
func (s *Simulator) Connect(toAddr NetworkAddress) (*Conn, error) {
	for {
		if _, ok := s.addressMap.get2(toAddr.key()); ok {
			break
		}
		if err := s.Delay(0.1*s.rng.Float64(), TaskDefaultDelay); err != nil {
			return nil, err
		}
	}
	peerp := s.GetProcessByAddress(toAddr)
	myc := newSimConn(s, s.current)
	peerc := newSimConn(s, peerp)

	myc.connect(peerc, toAddr)
	peerc.connect(myc, NetworkAddress{
		IP:   s.current.Address.IP + uint32(s.rng.IntRange(0, 256)),
		Port: uint16(s.rng.IntRange(40000, 60000)),
	})

	peerp.Listener.incomingConnection(0.5*s.rng.Float64(), peerc)

	if err := s.Delay(0.5*s.rng.Float64(), TaskDefaultDelay); err != nil {
		return nil, err
	}
	if myc.isPeerGone() && s.rng.Float64() < 0.5 {
		s.Never() // dropped connect; does not resolve
	}
	myc.opened = true
	return myc, nil
}
