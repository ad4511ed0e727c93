package simdb

// Config holds the simulator knobs. Zero-ish defaults come
// from NewConfig; tests and the CLI override individual
// fields before calling NewSimulator.
type Config struct {

	// Seed determines everything. Two runs with equal
	// seeds and equal driver code produce bit-identical
	// schedules and traces.
	Seed uint64

	// Buggify turns on the per-call-site "bug finding"
	// code paths (smaller writes, larger disk drift,
	// buggified delays).
	Buggify bool

	// ConnectionFailures controls the random close
	// injection on connection reads/writes. "on", "off",
	// or "auto" (a seeded coin flip, the default).
	ConnectionFailures string

	// network latency model, in seconds.
	MinNetworkLatency  float64
	FastNetworkLatency float64
	SlowNetworkLatency float64

	// MaxCloggingLatency scales the permanent per-pair
	// baseline latency drawn on first contact. Left at 0
	// and with Buggify on, NewSimulator draws
	// 0.1*U(0,1) for it.
	MaxCloggingLatency float64

	// MaxBuggifiedDelay scales the heavy-tailed extra
	// delay occasionally added to Delay calls. Left at 0
	// and with Buggify on, NewSimulator draws
	// 0.2*U(0,1) for it.
	MaxBuggifiedDelay float64

	// simulated file open takes U(MinOpenTime, MaxOpenTime).
	MinOpenTime float64
	MaxOpenTime float64

	// per-disk performance model.
	DiskIOPS      int64
	DiskBandwidth int64 // bytes/sec

	// ProcessesPerMachine gates KillMachine's
	// partial-reboot guard; 0 disables the guard.
	ProcessesPerMachine int

	// replication configuration consulted by the fault
	// controller. Both policies must be set before
	// CanKillProcesses is used.
	TLogPolicy          ReplicationPolicy
	StoragePolicy       ReplicationPolicy
	TLogWriteAntiQuorum int

	// TraceToStdout mirrors every trace event through the
	// vv logger as it is recorded.
	TraceToStdout bool
}

func NewConfig() *Config {
	return &Config{
		ConnectionFailures: "auto",
		MinNetworkLatency:  100e-6,
		FastNetworkLatency: 800e-6,
		SlowNetworkLatency: 100e-3,
		MinOpenTime:        0.0002,
		MaxOpenTime:        0.0012,
		DiskIOPS:           25000,
		DiskBandwidth:      150e6,
	}
}
