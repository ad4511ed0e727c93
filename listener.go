package simdb

// Listener is a process's inbound-connection queue. Connect
// on the far side enqueues the peer endpoint here after a
// short random delivery delay.
type Listener struct {
	sim     *Simulator
	process *Process

	queue   []*Conn
	arrived waitset
}

func newListener(s *Simulator, p *Process) *Listener {
	return &Listener{
		sim:     s,
		process: p,
		arrived: waitset{sim: s},
	}
}

func (l *Listener) GetListenAddress() NetworkAddress {
	return l.process.Address
}

// incomingConnection is called from the connecting process.
// Delivery happens in the listening process's context after
// seconds of virtual time; a connection whose initiator has
// already gone away is dropped half the time.
func (l *Listener) incomingConnection(seconds float64, conn *Conn) {
	s := l.sim
	s.Spawn(l.process, func() {
		if err := s.Delay(seconds, TaskDefaultDelay); err != nil {
			return
		}
		if conn.isPeerGone() && s.rng.Float64() < 0.5 {
			return
		}
		s.Event("Sim2IncomingConn", "DbgID", conn.dbgid,
			"ListenAddr", l.process.Address.String())
		l.queue = append(l.queue, conn)
		l.arrived.wakeAll()
	})
}

// Accept parks the calling fiber until an inbound connection
// arrives, and returns it opened.
func (l *Listener) Accept() (*Conn, error) {
	for len(l.queue) == 0 {
		if err := l.arrived.wait(TaskDefaultDelay); err != nil {
			return nil, err
		}
	}
	c := l.queue[0]
	l.queue = l.queue[1:]
	c.opened = true
	return c, nil
}

// Listen returns the current process's listener; addr must be
// the process's own address.
func (s *Simulator) Listen(addr NetworkAddress) *Listener {
	if addr.key() != s.current.Address.key() {
		panic("Listen: addr must equal the current process address")
	}
	return s.current.Listener
}
