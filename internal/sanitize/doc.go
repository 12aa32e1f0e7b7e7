// Package sanitize provides payload cleaning for outbound gateway messages.
//
// Home Assistant entity names, state strings, and attribute values are
// user-controlled and occasionally contain control characters or stray
// whitespace that upset downstream MQTT consumers. Everything the gateway
// publishes passes through DeepClean before serialization.
//
// # Features
//
//   - Recursive cleaning of strings inside nested maps and slices
//   - ASCII control character removal (0x00-0x1F, 0x7F)
//   - Surrounding whitespace trimming on every string
//   - Measurement unit canonicalization for metric names (NormalizeUnit)
//
// # Usage
//
//	clean := sanitize.DeepClean(envelope.Map())
//	payload, err := json.Marshal(clean)
//
// Both DeepClean and NormalizeUnit are idempotent: applying them twice
// yields the same result as applying them once.
package sanitize
