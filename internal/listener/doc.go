// Package listener maintains the gateway's connection to the Home Assistant
// WebSocket event bus.
//
// The listener owns a session state machine:
//
//	disconnected → connecting → authenticating → subscribing → streaming
//
// Any failure in any phase tears the session down and re-enters connecting
// after an exponential backoff (doubling from the floor, capped, reset to
// the floor once streaming is reached). Shutdown is observed cooperatively
// at every wait point via the context passed to Start.
//
// # Protocol
//
// The handshake is fixed: the server sends {"type":"auth_required"}, the
// client answers {"type":"auth","access_token":...}, the server must reply
// {"type":"auth_ok"}. The client then sends a subscribe_events request for
// state_changed with request id 1 and does not await an acknowledgment —
// the subscription is considered active once the request is sent.
//
// # Filtering
//
// In the default "changed" mode an event is forwarded only when both the
// old and new state carry a numeric value and the value actually changed.
// Non-numeric states and no-op updates are expected noise and are discarded
// silently. The "all" mode forwards every well-formed state_changed event.
package listener
