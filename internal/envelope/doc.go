// Package envelope defines the outbound message format published by the
// gateway.
//
// Every message the gateway publishes — forwarded Home Assistant events and
// periodic heartbeats alike — is wrapped in an Envelope carrying a schema
// version, a source identifier, and a millisecond UTC timestamp. The payload
// is exactly one of two variants:
//
//   - event: the verbatim Home Assistant event body plus gateway identity
//   - heartbeat: the gateway identifier and a monotonically increasing counter
//
// Downstream consumers dispatch on the presence of the "event" or
// "heartbeat" key and can reject messages with an unknown schema_version.
package envelope
