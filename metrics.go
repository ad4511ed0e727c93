package simdb

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// run counters, exported in prometheus format by the CLI.
// They accumulate across simulators in the same binary; the
// deterministic record of one run is the trace, not these.
var (
	taskCountDispatched = metrics.NewCounter("simdb_tasks_dispatched_total")
	taskCountDropped    = metrics.NewCounter("simdb_tasks_dropped_total")
	connFailureCount    = metrics.NewCounter("simdb_connection_failures_total")
	connLeakCount       = metrics.NewCounter("simdb_connection_leaks_total")
	killCount           = metrics.NewCounter("simdb_process_kills_total")
	fileOpenCount       = metrics.NewCounter("simdb_file_opens_total")
	traceEventCount     = metrics.NewCounter("simdb_trace_events_total")
)

// WriteMetrics dumps all counters in prometheus exposition
// format.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
