package simdb

import (
	"errors"
	"fmt"
)

// The error kinds that escape the simulator to its callers.
// Fault-injected errors are indistinguishable from real ones:
// an injected io_error is returned as ErrIOError, same as a
// genuine failed OS call.
var (
	// ErrConnectionFailed is a (possibly random) connection close
	// observed by a reader or writer.
	ErrConnectionFailed = errors.New("connection_failed")

	// ErrConnectionLeaked names the leaked-connection condition: a
	// peer observed our close but we never closed our own end. The
	// leak watchdog reports it as a LeakedConnection trace event;
	// no call returns this error.
	ErrConnectionLeaked = errors.New("connection_leaked")

	// ErrBrokenPromise means the continuation we were waiting on
	// was cancelled.
	ErrBrokenPromise = errors.New("broken_promise")

	ErrIOError      = errors.New("io_error")
	ErrIOTimeout    = errors.New("io_timeout")
	ErrFileNotFound = errors.New("file_not_found")

	// collaborator-domain errors, propagated untouched.
	ErrPastVersion      = errors.New("past_version")
	ErrFutureVersion    = errors.New("future_version")
	ErrWrongShardServer = errors.New("wrong_shard_server")
)

var errShutdown = fmt.Errorf("shutting down")

// ErrShutdown returns the shutdown sentinel error. The
// simulator's blocking calls do not return it: after Stop,
// Run returns and parked fibers are simply never resumed.
func ErrShutdown() error {
	return errShutdown
}
