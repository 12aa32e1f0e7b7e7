package listener

import (
	"encoding/json"
	"strconv"
)

// Frame types exchanged with the event source.
const (
	frameAuthRequired = "auth_required"
	frameAuth         = "auth"
	frameAuthOK       = "auth_ok"
	frameSubscribe    = "subscribe_events"
	frameEvent        = "event"
)

// subscribeRequestID is the fixed request identifier for the single
// subscribe_events request each session sends.
const subscribeRequestID = 1

// eventTypeStateChanged is the only event category the gateway subscribes to.
const eventTypeStateChanged = "state_changed"

// frame is the generic inbound WebSocket message format. The event body is
// kept raw so it can be forwarded verbatim.
type frame struct {
	ID    int             `json:"id,omitempty"`
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event,omitempty"`
}

// eventBody is the decoded shape of a state_changed event frame, used only
// for filtering. The raw JSON is what gets forwarded.
type eventBody struct {
	Data stateChangedData `json:"data"`
}

// stateChangedData is the data payload of a state_changed event.
type stateChangedData struct {
	EntityID string       `json:"entity_id"`
	OldState *entityState `json:"old_state"`
	NewState *entityState `json:"new_state"`
}

// entityState is one state snapshot inside a state_changed event.
type entityState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// value parses the snapshot's state as a float. Home Assistant states are
// strings even for numeric sensors ("21.5").
func (s *entityState) value() (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(s.State, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// unit returns the raw unit_of_measurement attribute, if present.
func (s *entityState) unit() string {
	if s == nil {
		return ""
	}
	u, _ := s.Attributes["unit_of_measurement"].(string)
	return u
}

// forwardDecision is the outcome of filtering one event.
type forwardDecision struct {
	forward bool

	// numeric is true when the new state parsed as a float; newValue is
	// only meaningful then.
	numeric  bool
	newValue float64
}

// decide applies the forwarding policy to a decoded event.
//
// In "changed" mode an event passes only if both snapshots carry a numeric
// value and the values differ. Non-numeric states and no-op updates are
// expected noise and are dropped without logging. In "all" mode any event
// with a new state passes.
func decide(mode string, data stateChangedData) forwardDecision {
	newVal, newOK := data.NewState.value()

	if mode == "all" {
		if data.NewState == nil {
			return forwardDecision{}
		}
		return forwardDecision{forward: true, numeric: newOK, newValue: newVal}
	}

	oldVal, oldOK := data.OldState.value()
	if !oldOK || !newOK {
		return forwardDecision{}
	}
	if newVal == oldVal {
		return forwardDecision{}
	}
	return forwardDecision{forward: true, numeric: true, newValue: newVal}
}
