// Package mqtt provides the gateway's MQTT publisher.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Envelope publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//   - Publish statistics (message and byte counters)
//
// # Architecture
//
// The gateway publishes every outbound envelope — forwarded events and
// heartbeats — to a single configured topic. The broker connection is
// established once at startup and shared by the event listener and the
// heartbeat ticker; paho serializes concurrent publish calls internally,
// so callers need no additional locking.
//
//	Event Listener ─┐
//	                ├─→ mqtt.Client ─→ Broker
//	Heartbeat ──────┘
//
// # Security Considerations
//
//   - TLS is enabled by default (mqtt.tls) with a TLS 1.2 floor
//   - Credentials are validated against the broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Topic)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishEnvelope(cfg.Topic, envelope.NewHeartbeat("gw-01", 1))
package mqtt
