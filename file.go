package simdb

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
)

// Open flags. ATOMIC_WRITE_AND_CREATE writes into a shadow
// "<name>.part" file that only becomes visible under the real
// name at the first Sync.
const (
	OPEN_READONLY                = 0x1
	OPEN_READWRITE               = 0x2
	OPEN_CREATE                  = 0x4
	OPEN_EXCLUSIVE               = 0x8
	OPEN_ATOMIC_WRITE_AND_CREATE = 0x10
	OPEN_UNCACHED                = 0x20
)

// simulator-stable error codes for fault-injection sites.
const (
	errorCodeIOError   = 1510
	errorCodeIOTimeout = 1521
)

// DiskParameters is the performance model of one simulated
// disk: a reservation clock advanced by 1/iops + bytes/bw per
// operation. It is shared by every layer wrapping the same
// file so they agree on when the disk is next free.
type DiskParameters struct {
	IOPS          int64
	Bandwidth     int64 // bytes per second
	NextOperation float64
}

// waitUntilDiskReady reserves disk time for an operation of
// the given size and parks until the reservation (plus a
// random tail; longer for syncs) comes due. When connection
// failures are disabled the model collapses to a fixed 100us.
func (s *Simulator) waitUntilDiskReady(dp *DiskParameters, size int64, sync bool) error {
	if !s.enableConnectionFailures {
		return s.Delay(0.0001, TaskDefaultDelay)
	}
	if dp.NextOperation < s.now {
		dp.NextOperation = s.now
	}
	dp.NextOperation += 1.0/float64(dp.IOPS) + float64(size)/float64(dp.Bandwidth)

	var randomLatency float64
	if sync {
		maxTail := 0.010
		if s.buggify() {
			maxTail = 1.0
		}
		randomLatency = 0.005 + s.rng.Float64()*maxTail
	} else {
		randomLatency = 10 * s.rng.Float64() / float64(dp.IOPS)
	}
	return s.DelayUntil(dp.NextOperation+randomLatency, TaskDiskIOComplete)
}

// SimFile is a simulated asynchronous file. The real OS file
// underneath is used only as an opaque byte store; all timing
// comes from the DiskParameters model.
type SimFile struct {
	sim     *Simulator
	machine *Machine

	h              *os.File
	diskParameters *DiskParameters

	filename       string // logical name
	actualFilename string // logical + ".part" while atomic-create pending
	flags          int
	dbgid          string

	// approximateSize feeds the per-machine disk space
	// accounting in GetDiskBytes.
	approximateSize int64
}

func flagConversion(flags int) int {
	outFlags := 0
	if flags&OPEN_READWRITE != 0 {
		outFlags |= os.O_RDWR
	}
	if flags&OPEN_CREATE != 0 {
		outFlags |= os.O_CREATE
	}
	if flags&OPEN_READONLY != 0 {
		outFlags |= os.O_RDONLY
	}
	if flags&OPEN_EXCLUSIVE != 0 {
		outFlags |= os.O_EXCL
	}
	if flags&OPEN_ATOMIC_WRITE_AND_CREATE != 0 {
		outFlags |= os.O_TRUNC
	}
	return outFlags
}

// OpenFile opens filename on the current process's machine.
// Handles are machine scoped and shared: a second open of the
// same name returns the cached handle. Crossing 2000
// concurrently open files turns off connection failures and
// enters speed-up mode; 3000 aborts the simulation.
func (s *Simulator) OpenFile(filename string, flags int, mode os.FileMode) (*SimFile, error) {
	cur := s.current
	machine := cur.Machine
	if machine == nil {
		panic("OpenFile requires a process bound to a machine")
	}
	if flags&OPEN_EXCLUSIVE != 0 && flags&OPEN_CREATE == 0 {
		panic("OPEN_EXCLUSIVE requires OPEN_CREATE")
	}

	if f, ok := machine.OpenFiles.get2(filename); ok {
		return f, nil
	}
	if flags&OPEN_ATOMIC_WRITE_AND_CREATE != 0 {
		if f, ok := machine.OpenFiles.get2(filename + ".part"); ok {
			return f, nil
		}
	}

	s.openCount++
	if s.openCount >= 3000 {
		s.EventSev(SevError, "TooManyFiles",
			"OpenCount", fmt.Sprint(s.openCount))
		panic("too many open simulated files")
	}
	if s.openCount == 2000 {
		s.EventSev(SevWarnAlways, "DisableConnectionFailures_TooManyFiles")
		s.speedUpSimulation = true
		s.enableConnectionFailures = false
	}

	if err := s.OnMachine(cur, TaskDefaultDelay); err != nil {
		return nil, err
	}
	openErr := func(err error) (*SimFile, error) {
		s.OnProcess(cur, TaskDefaultDelay)
		return nil, err
	}

	if err := s.Delay(s.cfg.MinOpenTime+
		s.rng.Float64()*(s.cfg.MaxOpenTime-s.cfg.MinOpenTime),
		TaskDefaultDelay); err != nil {
		return openErr(err)
	}

	openFilename := filename
	if flags&OPEN_ATOMIC_WRITE_AND_CREATE != 0 {
		if flags&OPEN_CREATE == 0 || flags&OPEN_READWRITE == 0 ||
			flags&OPEN_EXCLUSIVE != 0 {
			panic("OPEN_ATOMIC_WRITE_AND_CREATE requires CREATE|READWRITE and no EXCLUSIVE")
		}
		openFilename = filename + ".part"
	}

	h, err := os.OpenFile(openFilename, flagConversion(flags), mode)
	if err != nil {
		notFound := os.IsNotExist(err)
		e := ErrIOError
		sev := SevWarnAlways
		if notFound {
			e = ErrFileNotFound
			sev = SevWarn
		}
		s.EventSev(sev, "FileOpenError", "File", filename,
			"Flags", fmt.Sprintf("0x%x", flags), "OSError", err.Error())
		return openErr(e)
	}

	f := &SimFile{
		sim:     s,
		machine: machine,
		h:       h,
		diskParameters: &DiskParameters{
			IOPS:      s.cfg.DiskIOPS,
			Bandwidth: s.cfg.DiskBandwidth,
		},
		filename:       filename,
		actualFilename: openFilename,
		flags:          flags,
		dbgid:          s.rng.UniqueID(),
	}
	if fi, err := h.Stat(); err == nil {
		f.approximateSize = fi.Size()
	}
	machine.OpenFiles.set(openFilename, f)
	fileOpenCount.Inc()

	if err := s.OnProcess(cur, TaskDefaultDelay); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Simulator) injectFault(kind error, code int) error {
	_, file, line, _ := runtime.Caller(1)
	if s.ShouldInjectFault(path.Base(file), line, code) {
		return kind
	}
	return nil
}

func (f *SimFile) GetFilename() string { return f.actualFilename }

func (f *SimFile) Read(data []byte, offset int64) (int, error) {
	s := f.sim
	if err := s.waitUntilDiskReady(f.diskParameters, int64(len(data)), false); err != nil {
		return 0, err
	}
	n, err := f.h.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		s.EventSev(SevWarn, "SimpleFileIOError", "Location", "read",
			"File", f.filename)
		return 0, ErrIOError
	}
	if err := s.injectFault(ErrIOError, errorCodeIOError); err != nil {
		return 0, err
	}
	if err := s.injectFault(ErrIOTimeout, errorCodeIOTimeout); err != nil {
		return 0, err
	}
	return n, nil
}

func (f *SimFile) Write(data []byte, offset int64) error {
	s := f.sim
	if err := s.waitUntilDiskReady(f.diskParameters, int64(len(data)), false); err != nil {
		return err
	}
	n, err := f.h.WriteAt(data, offset)
	if err != nil || n != len(data) {
		s.EventSev(SevWarn, "SimpleFileIOError", "Location", "write",
			"File", f.filename)
		return ErrIOError
	}
	if end := offset + int64(len(data)); end > f.approximateSize {
		f.approximateSize = end
	}
	if err := s.injectFault(ErrIOError, errorCodeIOError); err != nil {
		return err
	}
	if err := s.injectFault(ErrIOTimeout, errorCodeIOTimeout); err != nil {
		return err
	}
	return nil
}

func (f *SimFile) Truncate(size int64) error {
	s := f.sim
	if err := s.waitUntilDiskReady(f.diskParameters, 0, false); err != nil {
		return err
	}
	if err := f.h.Truncate(size); err != nil {
		s.EventSev(SevWarn, "SimpleFileIOError", "Location", "truncate",
			"File", f.filename)
		return ErrIOError
	}
	f.approximateSize = size
	return s.injectFault(ErrIOError, errorCodeIOError)
}

// Sync flushes, and performs the atomic-create commit: the
// shadow ".part" file is renamed to the real name and the
// machine's open-files entry moves with it. Before the first
// Sync, the file is invisible under its logical name.
func (f *SimFile) Sync() error {
	s := f.sim
	if err := s.waitUntilDiskReady(f.diskParameters, 0, true); err != nil {
		return err
	}
	if f.flags&OPEN_ATOMIC_WRITE_AND_CREATE != 0 {
		f.flags &^= OPEN_ATOMIC_WRITE_AND_CREATE
		sourceFilename := f.filename + ".part"
		if _, ok := f.machine.OpenFiles.get2(sourceFilename); ok {
			s.Event("SimpleFileRename", "From", sourceFilename, "To", f.filename)
			if err := os.Rename(sourceFilename, f.filename); err != nil {
				return ErrIOError
			}
			if _, dup := f.machine.OpenFiles.get2(f.filename); dup {
				panic(fmt.Sprintf("atomic rename target '%v' already open", f.filename))
			}
			f.machine.OpenFiles.delkey(sourceFilename)
			f.machine.OpenFiles.set(f.filename, f)
			f.actualFilename = f.filename
		}
	}
	return s.injectFault(ErrIOError, errorCodeIOError)
}

func (f *SimFile) Size() (int64, error) {
	s := f.sim
	if err := s.waitUntilDiskReady(f.diskParameters, 0, false); err != nil {
		return 0, err
	}
	fi, err := f.h.Stat()
	if err != nil {
		s.EventSev(SevWarn, "SimpleFileIOError", "Location", "size",
			"File", f.filename)
		return 0, ErrIOError
	}
	f.approximateSize = fi.Size()
	if err := s.injectFault(ErrIOError, errorCodeIOError); err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// DeleteFile removes filename from the current machine's
// open-files map immediately. A non-durable delete (the coin
// flip) may return before the underlying file is gone, so it
// can be "lost" across a reboot; a durable delete always hits
// the OS before returning.
func (s *Simulator) DeleteFile(filename string, mustBeDurable bool) error {
	machine := s.current.Machine
	if machine != nil {
		machine.OpenFiles.delkey(filename)
	}
	if mustBeDurable || s.rng.Float64() < 0.5 {
		if err := s.Delay(0.05*s.rng.Float64(), TaskDefaultDelay); err != nil {
			return err
		}
		if !s.current.Rebooting {
			// the underlying delete must resolve immediately.
			err := os.Remove(filename)
			if err != nil && !os.IsNotExist(err) {
				return ErrIOError
			}
			if err := s.Delay(0.05*s.rng.Float64(), TaskDefaultDelay); err != nil {
				return err
			}
		}
	}
	return nil
}
