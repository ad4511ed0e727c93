package simdb

import (
	"os"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

type Severity int

const (
	SevDebug Severity = iota
	SevInfo
	SevWarn
	SevWarnAlways
	SevError
)

func (sev Severity) String() string {
	switch sev {
	case SevDebug:
		return "Debug"
	case SevInfo:
		return "Info"
	case SevWarn:
		return "Warn"
	case SevWarnAlways:
		return "WarnAlways"
	case SevError:
		return "Error"
	}
	return "Unknown"
}

// Detail is one key/value pair on a trace event. Details keep
// insertion order; never a map, so the serialized trace is
// byte-stable.
type Detail struct {
	Key string `json:"k"`
	Val string `json:"v"`
}

// TraceEvent is one structured event: a name plus detail
// pairs, stamped with the virtual time and the process the
// emitting task was bound to. The trace is a pure function of
// (seed, knobs, driver code).
type TraceEvent struct {
	Time    float64  `json:"tm"`
	Sev     string   `json:"sev"`
	Name    string   `json:"name"`
	Process string   `json:"proc"`
	Details []Detail `json:"details,omitempty"`
}

// Tracer records every significant simulator decision (kill
// downgrades, connection failures, fault injections, disk
// exhaustion, leaked connections, ...).
type Tracer struct {
	sim      *Simulator
	events   []*TraceEvent
	latest   *omap[string, *TraceEvent]
	toStdout bool
}

func newTracer(s *Simulator, toStdout bool) *Tracer {
	return &Tracer{
		sim:      s,
		latest:   newOmap[string, *TraceEvent](),
		toStdout: toStdout,
	}
}

// Event records an info-severity event on the current
// process; kv is alternating key, value strings.
func (s *Simulator) Event(name string, kv ...string) *TraceEvent {
	return s.EventSev(SevInfo, name, kv...)
}

func (s *Simulator) EventSev(sev Severity, name string, kv ...string) *TraceEvent {
	if len(kv)%2 != 0 {
		panic("EventSev: kv must be alternating key, value pairs")
	}
	proc := ""
	if s.current != nil {
		proc = s.current.Name
	}
	ev := &TraceEvent{
		Time:    s.now,
		Sev:     sev.String(),
		Name:    name,
		Process: proc,
	}
	for i := 0; i < len(kv); i += 2 {
		ev.Details = append(ev.Details, Detail{Key: kv[i], Val: kv[i+1]})
	}
	s.trace.record(ev)
	return ev
}

func (t *Tracer) record(ev *TraceEvent) {
	t.events = append(t.events, ev)
	t.latest.set(ev.Name, ev)
	if t.toStdout {
		vv("%v [%v] %v %v %v", ev.Time, ev.Sev, ev.Name, ev.Process, ev.Details)
	}
	traceEventCount.Inc()
}

func (t *Tracer) Events() []*TraceEvent { return t.events }

// Latest returns the most recent event with the given name,
// or nil.
func (t *Tracer) Latest(name string) *TraceEvent {
	ev, _ := t.latest.get2(name)
	return ev
}

// ClearLatest drops the latest-event cache; called when a
// process is killed instantly so its tracked messages vanish
// with it.
func (t *Tracer) ClearLatest() {
	t.latest.deleteAll()
}

// Count returns how many events with the given name have been
// recorded.
func (t *Tracer) Count(name string) (n int) {
	for _, ev := range t.events {
		if ev.Name == name {
			n++
		}
	}
	return
}

// JSON serializes the whole trace.
func (t *Tracer) JSON() []byte {
	by, err := gojson.MarshalIndent(t.events, "", " ")
	panicOn(err)
	return by
}

// WriteFile dumps the trace as JSON; a ".zst" suffix gets
// zstd compression.
func (t *Tracer) WriteFile(path string) error {
	by := t.JSON()
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		by = enc.EncodeAll(by, nil)
		enc.Close()
	}
	return os.WriteFile(path, by, 0644)
}
