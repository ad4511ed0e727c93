package simdb

import (
	"fmt"

	"github.com/glycerine/loquet"
)

// NetworkAddress is a normalized (ip, port, tls) triple. The
// simulator keys its address map, clogging tables, and disk
// ledgers on these; the tls flag is ignored for lookup.
type NetworkAddress struct {
	IP   uint32
	Port uint16
	TLS  bool
}

func MakeIPv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

func (a NetworkAddress) String() string {
	s := fmt.Sprintf("%v:%v", ipString(a.IP), a.Port)
	if a.TLS {
		s += ":tls"
	}
	return s
}

// key normalizes for map lookup: tls does not distinguish
// endpoints.
func (a NetworkAddress) key() uint64 {
	return uint64(a.IP)<<16 | uint64(a.Port)
}

// LocalityData identifies where a process is placed
// physically.
type LocalityData struct {
	ZoneID     string
	DataHallID string
	DCID       string
	MachineID  string
}

// attr fetches a locality attribute by name, for policy
// grouping.
func (l LocalityData) attr(name string) string {
	switch name {
	case "zoneid":
		return l.ZoneID
	case "data_hall":
		return l.DataHallID
	case "dcid":
		return l.DCID
	case "machineid":
		return l.MachineID
	}
	panic(fmt.Sprintf("unknown locality attribute '%v'", name))
}

func (l LocalityData) String() string {
	return fmt.Sprintf("zone:%v hall:%v dc:%v machine:%v",
		l.ZoneID, l.DataHallID, l.DCID, l.MachineID)
}

// ProcessClass is the role tag of a simulated process.
type ProcessClass int

const (
	UnsetClass ProcessClass = iota
	StorageClass
	TransactionClass // tlog
	ResolutionClass
	MasterClass
	TesterClass
)

func (c ProcessClass) String() string {
	switch c {
	case UnsetClass:
		return "Unset"
	case StorageClass:
		return "Storage"
	case TransactionClass:
		return "Transaction"
	case ResolutionClass:
		return "Resolution"
	case MasterClass:
		return "Master"
	case TesterClass:
		return "Tester"
	}
	return fmt.Sprintf("ProcessClass(%d)", int(c))
}

// Process is a simulated execution endpoint.
type Process struct {
	sim *Simulator

	Name     string
	Locality LocalityData
	Class    ProcessClass
	Address  NetworkAddress

	DataFolder         string
	CoordinationFolder string

	Machine *Machine

	Failed    bool
	Rebooting bool

	// ShutdownSignal closes when a reboot-class kill is
	// delivered; ShutdownKT then says which kind. Fibers
	// wait for it with WaitShutdown; the loquet channel is
	// for external (non-fiber) observers.
	ShutdownSignal *loquet.Chan[KillType]
	ShutdownKT     KillType
	shutdownSent   bool
	shutdownWS     waitset
	machineProcess bool

	// fault injection triple; see ShouldInjectFault.
	faultInjectionP1 float64
	faultInjectionP2 float64
	faultInjectionR  uint64

	// per-process singleton attachments (opaque key ->
	// value), for collaborators to hang state off of.
	Globals map[string]any

	Listener *Listener
}

func (p *Process) String() string {
	return fmt.Sprintf("Process{%v @ %v, class:%v, %v, failed:%v, rebooting:%v}",
		p.Name, p.Address, p.Class, p.Locality, p.Failed, p.Rebooting)
}

func (p *Process) Sim() *Simulator { return p.sim }

// SetGlobal attaches a singleton to this process.
func (p *Process) SetGlobal(key string, val any) {
	p.Globals[key] = val
}

func (p *Process) GetGlobal(key string) any {
	return p.Globals[key]
}

// WaitShutdown parks the calling fiber until a reboot-class
// kill fires this process's shutdown signal, and returns the
// kill type it carried.
func (p *Process) WaitShutdown() KillType {
	for !p.shutdownSent {
		p.shutdownWS.wait(TaskDefaultDelay)
	}
	return p.ShutdownKT
}

// Machine is the unit of shared non-durable state across
// co-located processes: one zone, one IP, one disk namespace.
type Machine struct {
	ZoneID    string
	Processes []*Process

	// MachineProcess outlives the individual processes and
	// owns async operations on non-durable files.
	MachineProcess *Process

	// OpenFiles is shared by every process on the machine:
	// logical-or-physical filename -> open handle.
	OpenFiles *omap[string, *SimFile]

	Dead bool
}

// NewProcess registers a simulated process. The zone's
// Machine is created on the first process in that zone, along
// with its hidden machine process bound to (ip, 0).
func (s *Simulator) NewProcess(name string, ip uint32, port uint16,
	locality LocalityData, class ProcessClass,
	dataFolder, coordinationFolder string) *Process {

	if locality.ZoneID == "" {
		panic(fmt.Sprintf("NewProcess('%v'): locality.ZoneID must be present", name))
	}
	machine, ok := s.machines.get2(locality.ZoneID)
	if !ok {
		machine = &Machine{
			ZoneID:    locality.ZoneID,
			OpenFiles: newOmap[string, *SimFile](),
		}
		s.machines.set(locality.ZoneID, machine)
	}
	for _, sib := range machine.Processes {
		if sib.Locality.ZoneID != locality.ZoneID {
			panic(fmt.Sprintf("zone mismatch: process '%v' zone '%v' vs existing '%v' zone '%v'",
				name, locality.ZoneID, sib.Name, sib.Locality.ZoneID))
		}
		if sib.Address.Port == port {
			panic(fmt.Sprintf("port %v already taken on zone '%v' by '%v'",
				port, locality.ZoneID, sib.Name))
		}
	}

	// This is for async operations on non-durable files.
	// These files must live on after process kills.
	if machine.MachineProcess == nil {
		mp := &Process{
			sim:            s,
			Name:           "Machine",
			Locality:       locality,
			Class:          class,
			Address:        NetworkAddress{IP: ip, Port: 0},
			Machine:        machine,
			machineProcess: true,
			ShutdownSignal: loquet.NewChan[KillType](nil),
			shutdownWS:     waitset{sim: s},
			Globals:        make(map[string]any),
		}
		machine.MachineProcess = mp
	}

	p := &Process{
		sim:                s,
		Name:               name,
		Locality:           locality,
		Class:              class,
		Address:            NetworkAddress{IP: ip, Port: port, TLS: true},
		DataFolder:         dataFolder,
		CoordinationFolder: coordinationFolder,
		Machine:            machine,
		ShutdownSignal:     loquet.NewChan[KillType](nil),
		shutdownWS:         waitset{sim: s},
		Globals:            make(map[string]any),
	}
	p.Listener = newListener(s, p)
	machine.Processes = append(machine.Processes, p)
	s.currentlyRebooting.delkey(p.Address.key())
	s.addressMap.set(p.Address.key(), p)

	s.Event("NewMachine", "Name", name, "Address", p.Address.String(),
		"ZoneId", locality.ZoneID)
	return p
}

// DestroyProcess removes a failed process from its machine
// and parks it in the currently-rebooting set; re-creating a
// process at the same address clears that entry.
func (s *Simulator) DestroyProcess(p *Process) {
	if !p.Failed {
		panic(fmt.Sprintf("DestroyProcess('%v') requires failed", p.Name))
	}
	s.EventSev(SevInfo, "ProcessDestroyed", "Name", p.Name,
		"Address", p.Address.String(), "ZoneId", p.Locality.ZoneID)
	s.currentlyRebooting.set(p.Address.key(), p)
	procs := p.Machine.Processes
	for i, q := range procs {
		if q == p {
			procs[i] = procs[len(procs)-1]
			p.Machine.Processes = procs[:len(procs)-1]
			break
		}
	}
	s.killProcessInternal(p, KillInstantly)
}

// DestroyMachine tears down a zone whose processes have all
// been destroyed or failed.
func (s *Simulator) DestroyMachine(zoneID string) {
	machine, ok := s.machines.get2(zoneID)
	if !ok {
		panic(fmt.Sprintf("DestroyMachine: unknown zone '%v'", zoneID))
	}
	for _, p := range machine.Processes {
		if !p.Failed {
			panic(fmt.Sprintf("DestroyMachine('%v'): process '%v' not failed", zoneID, p.Name))
		}
	}
	machine.Dead = true
	if machine.MachineProcess != nil {
		s.killProcessInternal(machine.MachineProcess, KillInstantly)
	}
	s.machines.delkey(zoneID)
}

// GetAllProcesses returns every registered process, machine
// by machine in zone order. The hidden machine processes are
// not included.
func (s *Simulator) GetAllProcesses() (procs []*Process) {
	for _, m := range s.machines.all() {
		procs = append(procs, m.Processes...)
	}
	return
}

func (s *Simulator) GetProcessByAddress(addr NetworkAddress) *Process {
	p, ok := s.addressMap.get2(addr.key())
	if !ok {
		panic(fmt.Sprintf("GetProcessByAddress: no process at %v", addr))
	}
	return p
}

func (s *Simulator) GetMachineByID(zoneID string) *Machine {
	return s.machines.get(zoneID)
}

func (s *Simulator) GetMachineByNetworkAddress(addr NetworkAddress) *Machine {
	return s.GetProcessByAddress(addr).Machine
}

// ProtectAddress marks addr so that RebootProcessAndDelete is
// silently downgraded to RebootProcess for it.
func (s *Simulator) ProtectAddress(addr NetworkAddress) {
	s.protectedAddresses[addr.key()] = true
}

// IsAddressOnThisHost reports whether addr shares the current
// process's IP.
func (s *Simulator) IsAddressOnThisHost(addr NetworkAddress) bool {
	return addr.IP == s.current.Address.IP
}
