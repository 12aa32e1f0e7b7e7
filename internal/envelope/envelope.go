package envelope

import "time"

// SchemaVersion identifies the envelope wire format. Bump only on breaking
// changes to the envelope structure.
const SchemaVersion = 1

// GatewayType tags event envelopes with the kind of gateway that produced
// them, so consumers aggregating multiple bridge types can tell them apart.
const GatewayType = "ha-mqtt"

// Source identifies where an envelope's payload originated.
type Source string

// Envelope sources.
const (
	// SourceHomeAutomation marks envelopes carrying forwarded events.
	SourceHomeAutomation Source = "home-automation"

	// SourceGateway marks envelopes the gateway generates itself (heartbeats).
	SourceGateway Source = "gateway"
)

// Gateway identifies the gateway instance inside an event envelope.
type Gateway struct {
	Type string
	ID   string
}

// Heartbeat is the liveness payload variant.
type Heartbeat struct {
	GatewayID string
	Counter   uint64
}

// Envelope is the unit of publication. Exactly one of Event or Heartbeat is
// set, matching the Source.
type Envelope struct {
	SchemaVersion int
	Source        Source
	Timestamp     int64 // milliseconds since epoch, UTC

	Gateway   *Gateway
	Event     any
	Heartbeat *Heartbeat
}

// NewEvent wraps a decoded Home Assistant event body in an event envelope.
// The body is carried verbatim; cleaning happens at publish time.
func NewEvent(gatewayID string, body any) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		Source:        SourceHomeAutomation,
		Timestamp:     time.Now().UTC().UnixMilli(),
		Gateway: &Gateway{
			Type: GatewayType,
			ID:   gatewayID,
		},
		Event: body,
	}
}

// NewHeartbeat builds a heartbeat envelope for the given counter value.
func NewHeartbeat(gatewayID string, counter uint64) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		Source:        SourceGateway,
		Timestamp:     time.Now().UTC().UnixMilli(),
		Heartbeat: &Heartbeat{
			GatewayID: gatewayID,
			Counter:   counter,
		},
	}
}

// Map returns the canonical map form of the envelope, ready for sanitization
// and JSON serialization.
func (e Envelope) Map() map[string]any {
	m := map[string]any{
		"schema_version": e.SchemaVersion,
		"source":         string(e.Source),
		"timestamp":      e.Timestamp,
	}

	if e.Heartbeat != nil {
		m["heartbeat"] = map[string]any{
			"gateway_id": e.Heartbeat.GatewayID,
			"counter":    e.Heartbeat.Counter,
		}
		return m
	}

	if e.Gateway != nil {
		m["gateway"] = map[string]any{
			"type": e.Gateway.Type,
			"id":   e.Gateway.ID,
		}
	}
	m["event"] = e.Event

	return m
}
