// Package heartbeat emits periodic liveness envelopes.
//
// The ticker owns a counter that increases by one per heartbeat and lives
// for the whole process: it survives event-source reconnects and resets
// only on restart, so downstream consumers can detect both gaps (missed
// heartbeats) and restarts (counter reset).
//
// The ticker is independent of the event listener: heartbeats keep flowing
// while the listener is mid-reconnect, over the same shared broker
// connection. Shutdown is observed at the interval wait; once the shutdown
// signal fires, no further heartbeat is sent even if a tick races it.
package heartbeat
