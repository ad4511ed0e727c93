package simdb

import (
	"fmt"
	"io"

	"github.com/glycerine/base58"
)

// Conn is one end of a simulated bidirectional connection.
// Bytes written on one end land in the peer end's in-flight
// buffer; two per-connection fibers (the sender and receiver
// pumps) then propagate them through sentBytes/receivedBytes
// with modeled latency, clogging, and partial delivery.
//
// Counter invariants, maintained at every step:
//
//	readBytes <= receivedBytes <= sentBytes <= writtenBytes
//	len(recvBuf)  == receivedBytes - readBytes
//	len(inFlight) == writtenBytes - receivedBytes
//	sendBufSize - (writtenBytes - receivedBytes) >= 0
type Conn struct {
	sim         *Simulator
	process     *Process
	peerProcess *Process

	dbgid        string
	peerEndpoint NetworkAddress

	recvBuf  []byte // received, not yet read
	inFlight []byte // written, not yet received

	readBytes     *asyncInt64
	receivedBytes *asyncInt64
	sentBytes     *asyncInt64
	writtenBytes  *asyncInt64

	peer        *Conn
	sendBufSize int64

	opened         bool
	closedByCaller bool
	peerGone       bool
	leakCanceled   bool
}

func newSimConn(s *Simulator, process *Process) *Conn {
	var idb [8]byte
	s.rng.Read(idb[:])
	return &Conn{
		sim:           s,
		process:       process,
		dbgid:         base58.Encode(idb[:]),
		readBytes:     newAsyncInt64(s, 0),
		receivedBytes: newAsyncInt64(s, 0),
		sentBytes:     newAsyncInt64(s, 0),
		writtenBytes:  newAsyncInt64(s, 0),
	}
}

// connect pairs this end with peer. It is logically part of
// construction; no other method may be called first. Every
// one-way direction gets a random permanent latency and a
// random send buffer for the duration of the connection.
func (c *Conn) connect(peer *Conn, peerEndpoint NetworkAddress) {
	s := c.sim
	c.peer = peer
	c.peerProcess = peer.process
	c.peerEndpoint = peerEndpoint

	latency := s.clogging.setPairLatencyIfNotSet(
		c.peerProcess.Address.IP, c.process.Address.IP,
		s.cfg.MaxCloggingLatency*s.rng.Float64())
	c.sendBufSize = int64(s.rng.IntRange(0, 5000000))
	if floor := int64(25e6 * (latency + 0.002)); floor > c.sendBufSize {
		c.sendBufSize = floor
	}
	s.Event("Sim2Connection", "DbgID", c.dbgid,
		"SendBufSize", fmt.Sprint(c.sendBufSize), "Latency", fmtFloat(latency))

	s.Spawn(c.process, c.senderPump)
	s.Spawn(c.process, c.receiverPump)
}

func (c *Conn) isPeerGone() bool {
	return c.peer == nil ||
		(c.peerProcess != nil && c.peerProcess.Failed)
}

// eofPending: the peer closed cleanly (or is gone) and
// everything in flight has drained, so a Read should report
// end of stream.
func (c *Conn) eofPending() bool {
	return (c.peerGone || c.isPeerGone()) &&
		len(c.recvBuf) == 0 && len(c.inFlight) == 0
}

// Close marks the caller side closed. The peer end, if still
// open, gets a 20 second (virtual) watchdog: if it never
// closes, a leaked-connection event fires.
func (c *Conn) Close() {
	c.closedByCaller = true
	c.closeInternal()
}

func (c *Conn) closeInternal() {
	if c.peer != nil {
		c.peer.peerClosed()
		// wake the peer's blocked readers so they observe
		// the close.
		c.peer.receivedBytes.wakeAll()
	}
	c.leakCanceled = true
	c.peer = nil
	c.receivedBytes.wakeAll()
	c.writtenBytes.wakeAll()
	c.sentBytes.wakeAll()
}

func (c *Conn) peerClosed() {
	c.peerGone = true
	if c.closedByCaller {
		return
	}
	self := c
	s := c.sim
	s.Spawn(c.process, func() {
		s.Delay(20.0, TaskDefaultDelay)
		if self.closedByCaller || self.leakCanceled {
			return
		}
		s.EventSev(SevError, "LeakedConnection", "DbgID", self.dbgid,
			"MyAddr", self.process.Address.String(),
			"PeerAddr", self.peerEndpoint.String(),
			"Opened", fmt.Sprint(self.opened))
		connLeakCount.Inc()
	})
}

// Read transfers up to len(buf) already-received bytes and
// returns the count (possibly 0). io.EOF once the peer has
// closed and everything in flight has drained.
func (c *Conn) Read(buf []byte) (int, error) {
	if err := c.rollRandomClose(); err != nil {
		return 0, err
	}
	avail := c.receivedBytes.get() - c.readBytes.get()
	toRead := len(buf)
	if int64(toRead) > avail {
		toRead = int(avail)
	}
	if toRead > len(c.recvBuf) {
		panic(fmt.Sprintf("recvBuf invariant broken: toRead %v > len %v",
			toRead, len(c.recvBuf)))
	}
	copy(buf, c.recvBuf[:toRead])
	c.recvBuf = c.recvBuf[toRead:]
	c.readBytes.set(c.readBytes.get() + int64(toRead))
	if toRead == 0 && c.eofPending() {
		return 0, io.EOF
	}
	return toRead, nil
}

// Write copies as many unsent bytes as flow control allows
// from the buffer chain into the peer's in-flight buffer,
// up to limit, and returns the count. A gone peer absorbs
// nothing.
func (c *Conn) Write(bufs [][]byte, limit int) (int, error) {
	if err := c.rollRandomClose(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		panic(fmt.Sprintf("Write limit must be positive; got %v", limit))
	}
	toSend := 0
	if c.sim.buggify() {
		if len(bufs) > 0 {
			toSend = len(bufs[0])
			if toSend > limit {
				toSend = limit
			}
		}
	} else {
		for _, b := range bufs {
			toSend += len(b)
			if toSend >= limit {
				toSend = limit
				break
			}
		}
	}
	if toSend == 0 {
		panic("Write called with an empty buffer chain")
	}
	if c.sim.buggify() {
		if r := c.sim.rng.IntRange(0, 1000); r < toSend {
			toSend = r
		}
	}
	if c.isPeerGone() {
		return 0, nil
	}
	if av := c.peer.availableSendBufferForPeer(); int64(toSend) > av {
		toSend = int(av)
	}
	if toSend < 0 {
		panic("negative toSend; flow control broken")
	}
	left := toSend
	for _, b := range bufs {
		n := len(b)
		if n > left {
			n = left
		}
		c.peer.inFlight = append(c.peer.inFlight, b[:n]...)
		left -= n
		if left == 0 {
			break
		}
	}
	c.peer.writtenBytes.set(c.peer.writtenBytes.get() + int64(toSend))
	return toSend, nil
}

// availableSendBufferForPeer is how many more bytes the peer
// may write toward us before flow control stops it.
func (c *Conn) availableSendBufferForPeer() int64 {
	return c.sendBufSize - (c.writtenBytes.get() - c.receivedBytes.get())
}

// OnReadable parks the calling fiber until a Read can make
// progress (data arrived, or the peer closed).
func (c *Conn) OnReadable() error {
	for {
		if c.readBytes.get() != c.receivedBytes.get() {
			return nil
		}
		if c.eofPending() {
			return nil // Read will report EOF
		}
		if err := c.receivedBytes.onChange(TaskDefaultYield); err != nil {
			return err
		}
		if err := c.rollRandomClose(); err != nil {
			return err
		}
	}
}

// OnWritable parks the calling fiber until the peer's send
// buffer has room.
func (c *Conn) OnWritable() error {
	for {
		if c.peer == nil {
			return nil
		}
		if c.peer.availableSendBufferForPeer() > 0 {
			return nil
		}
		if err := c.peer.receivedBytes.onChange(TaskDefaultYield); err != nil {
			return err
		}
		if err := c.sim.OnProcess(c.process, TaskDefaultYield); err != nil {
			return err
		}
	}
}

func (c *Conn) GetPeerAddress() NetworkAddress { return c.peerEndpoint }
func (c *Conn) GetDebugID() string             { return c.dbgid }
func (c *Conn) Process() *Process              { return c.process }

// rollRandomClose injects the rare random connection
// failure: roughly one in 1e5 reads/writes, when enabled,
// closes the peer end (p=.66), the local end (p=.67, the
// ranges overlap), and raises a synchronous error to the
// caller (p=.3).
func (c *Conn) rollRandomClose() error {
	s := c.sim
	if !s.enableConnectionFailures || s.rng.Float64() >= 0.00001 {
		return nil
	}
	a, b := s.rng.Float64(), s.rng.Float64()
	s.EventSev(SevWarn, "ConnectionFailure", "DbgID", c.dbgid,
		"MyAddr", c.process.Address.String(),
		"PeerAddr", c.peerEndpoint.String(),
		"SendClosed", fmt.Sprint(a > .33),
		"RecvClosed", fmt.Sprint(a < .66),
		"Explicit", fmt.Sprint(b < .3))
	connFailureCount.Inc()
	if a < .66 && c.peer != nil {
		c.peer.closeInternal()
	}
	if a > .33 {
		c.closeInternal()
	}
	// occasionally the failure is noticed immediately.
	if b < .3 {
		return ErrConnectionFailed
	}
	return nil
}

// senderPump runs in the writer's context: whenever
// writtenBytes moves it waits 0.002*U(0,1), then publishes
// sentBytes = writtenBytes.
func (c *Conn) senderPump() {
	s := c.sim
	for {
		if c.closedByCaller {
			return
		}
		if err := c.writtenBytes.onChange(TaskDefaultDelay); err != nil {
			return
		}
		if c.closedByCaller {
			return
		}
		if err := s.Delay(0.002*s.rng.Float64(), TaskDefaultDelay); err != nil {
			return
		}
		c.sentBytes.set(c.writtenBytes.get())
	}
}

// receiverPump advances receivedBytes toward sentBytes. The
// target position is either the whole published batch or a
// uniformly drawn partial prefix, modeling partial delivery.
// The send-side delay elapses in the sender's context, then
// the fiber switches to the owner and the receive-side delay
// (pair latency, clog windows) elapses there.
func (c *Conn) receiverPump() {
	s := c.sim
	for {
		if c.closedByCaller {
			return
		}
		if c.sentBytes.get() != c.receivedBytes.get() {
			if err := s.OnProcess(c.peerProcess, TaskDefaultDelay); err != nil {
				return
			}
		}
		for c.sentBytes.get() == c.receivedBytes.get() {
			if c.closedByCaller {
				return
			}
			if err := c.sentBytes.onChange(TaskDefaultDelay); err != nil {
				return
			}
		}
		if c.closedByCaller {
			return
		}
		var pos int64
		if s.rng.Float64() < 0.5 {
			pos = c.sentBytes.get()
		} else {
			pos = s.rng.Int63Range(c.receivedBytes.get()+1, c.sentBytes.get()+1)
		}
		sendDelay := s.clogging.getSendDelay(c.process.Address, c.peerProcess.Address)
		if err := s.Delay(sendDelay, TaskDefaultDelay); err != nil {
			return
		}
		if err := s.OnProcess(c.process, TaskDefaultDelay); err != nil {
			return
		}
		recvDelay := s.clogging.getRecvDelay(c.process.Address, c.peerProcess.Address)
		if err := s.Delay(recvDelay, TaskDefaultDelay); err != nil {
			return
		}
		s.netStats.record(c.peerProcess.Address.IP, c.process.Address.IP,
			sendDelay+recvDelay)

		n := pos - c.receivedBytes.get()
		if n > 0 {
			c.recvBuf = append(c.recvBuf, c.inFlight[:n]...)
			c.inFlight = c.inFlight[n:]
			c.receivedBytes.set(pos)
		}
	}
}
