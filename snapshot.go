package simdb

import (
	gojson "github.com/goccy/go-json"
)

// ProcessStatus is one process's health in a snapshot.
type ProcessStatus struct {
	Name      string `json:"name"`
	Address   string `json:"addr"`
	ZoneID    string `json:"zone"`
	DCID      string `json:"dc,omitempty"`
	Class     string `json:"class"`
	Failed    bool   `json:"failed"`
	Rebooting bool   `json:"rebooting"`
	OpenFiles int    `json:"openFiles"`
}

// SimSnapshot lets user code and tests confirm the state of
// the whole simulation, without poking at internals.
type SimSnapshot struct {
	Asof                     float64          `json:"asof"`
	Seed                     uint64           `json:"seed"`
	SpeedUpSimulation        bool             `json:"speedUp"`
	EnableConnectionFailures bool             `json:"connFailures"`
	PendingTasks             int              `json:"pendingTasks"`
	KilledMachines           int              `json:"killedMachines"`
	Processes                []ProcessStatus  `json:"processes"`
	Latency                  []LatencySummary `json:"latency,omitempty"`
}

// GetSnapshot captures the current network and process
// state. Machine order (and so process order) is zone sorted
// and stable.
func (s *Simulator) GetSnapshot() *SimSnapshot {
	snap := &SimSnapshot{
		Asof:                     s.now,
		Seed:                     s.cfg.Seed,
		SpeedUpSimulation:        s.speedUpSimulation,
		EnableConnectionFailures: s.enableConnectionFailures,
		PendingTasks:             s.taskQ.Len(),
		KilledMachines:           s.killedMachines,
		Latency:                  s.netStats.summaries(),
	}
	for _, m := range s.machines.all() {
		for _, p := range m.Processes {
			snap.Processes = append(snap.Processes, ProcessStatus{
				Name:      p.Name,
				Address:   p.Address.String(),
				ZoneID:    p.Locality.ZoneID,
				DCID:      p.Locality.DCID,
				Class:     p.Class.String(),
				Failed:    p.Failed,
				Rebooting: p.Rebooting,
				OpenFiles: m.OpenFiles.Len(),
			})
		}
	}
	return snap
}

func (snap *SimSnapshot) String() string {
	by, err := gojson.MarshalIndent(snap, "", " ")
	panicOn(err)
	return string(by)
}
