package simdb

import (
	"fmt"
)

// NB: keep all the String() methods here together.

func (s *Simulator) String() (r string) {
	r = fmt.Sprintf(`Simulator{
 now: %v
 seed: %v
 pendingTasks: %v
 machines: %v
 speedUp: %v
 connFailures: %v
 openFiles: %v
`, s.now, s.cfg.Seed, s.taskQ.Len(), s.machines.Len(),
		s.speedUpSimulation, s.enableConnectionFailures, s.openCount)
	i := 0
	for _, m := range s.machines.all() {
		r += fmt.Sprintf(" zone [%v] '%v' dead:%v\n", i, m.ZoneID, m.Dead)
		for _, p := range m.Processes {
			r += fmt.Sprintf("   [%02d] %v\n", i, p)
			i++
		}
	}
	r += "}"
	return
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn{%v dbgid:%v read:%v recv:%v sent:%v written:%v sendBufSize:%v opened:%v closed:%v peerGone:%v}",
		c.process.Name, c.dbgid,
		c.readBytes.get(), c.receivedBytes.get(),
		c.sentBytes.get(), c.writtenBytes.get(),
		c.sendBufSize, c.opened, c.closedByCaller, c.peerGone)
}

func (l *Listener) String() string {
	return fmt.Sprintf("Listener{%v queued:%v}", l.process.Address, len(l.queue))
}

func (f *SimFile) String() string {
	return fmt.Sprintf("SimFile{%v actual:%v flags:0x%x approx:%v}",
		f.filename, f.actualFilename, f.flags, f.approximateSize)
}
