/*
Package simdb is a deterministic discrete-event simulator for
a distributed database. It is used to exercise cluster behavior
(process failures, network partitions, disk stalls, message
reordering) reproducibly from a single random seed.

Real wall-clock time, real sockets, and real disk I/O are replaced
by a virtual clock, an in-memory byte-oriented connection graph,
and a simulated filesystem with modeled latency and durability.

The heart of the package is the Simulator: a priority-queue event
scheduler over virtual time with stable tie-breaking; a per-process
execution context that binds every task to the machine/process that
scheduled it; a bidirectional in-memory connection abstraction that
models send/receive buffering, per-pair latency, clogging, and
random connection failure; a simulated asynchronous file abstraction
with IOPS/bandwidth modeling, atomic-rename semantics, and
per-machine disk-space accounting; and a fault/kill controller that
decides which process/machine/datacenter kill actions are survivable
under configured replication policies.

All simulated code runs single threaded over virtual time, in
cooperatively scheduled fibers. Given the same seed and the same
driver code, two runs produce bit-identical schedules and traces.
*/
package simdb
