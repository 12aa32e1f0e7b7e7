package listener

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openiotai/gateway-core/internal/envelope"
)

// fakePublisher records every envelope it is handed.
type fakePublisher struct {
	mu   sync.Mutex
	envs []envelope.Envelope
	err  error
}

func (p *fakePublisher) PublishEnvelope(_ string, env envelope.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envs = append(p.envs, env)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

func (p *fakePublisher) envelopes() []envelope.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]envelope.Envelope, len(p.envs))
	copy(out, p.envs)
	return out
}

// fakeTelemetry records sensor writes.
type fakeTelemetry struct {
	mu     sync.Mutex
	writes []sensorWrite
}

type sensorWrite struct {
	entityID string
	metric   string
	value    float64
}

func (t *fakeTelemetry) WriteSensorValue(entityID, metric string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, sensorWrite{entityID, metric, value})
}

var upgrader = websocket.Upgrader{}

// eventSource runs a fake Home Assistant WebSocket endpoint. The script is
// invoked per connection after a successful auth handshake and subscribe
// request.
func eventSource(t *testing.T, script func(conn *websocket.Conn, connNum int64)) (url string, conns *atomic.Int64) {
	t.Helper()

	var connCount atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connCount.Add(1)

		if err := conn.WriteJSON(map[string]string{"type": "auth_required"}); err != nil {
			return
		}

		var auth map[string]any
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["type"] != "auth" || auth["access_token"] != "test-token" {
			conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		if err := conn.WriteJSON(map[string]string{"type": "auth_ok"}); err != nil {
			return
		}

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub["type"] != "subscribe_events" || sub["event_type"] != "state_changed" {
			t.Errorf("unexpected subscribe request: %v", sub)
			return
		}

		if script != nil {
			script(conn, n)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), &connCount
}

// stateChangedFrame builds an event frame JSON for the given values.
func stateChangedFrame(entityID, oldState, newState, unit string) map[string]any {
	newAttrs := map[string]any{}
	if unit != "" {
		newAttrs["unit_of_measurement"] = unit
	}
	return map[string]any{
		"type": "event",
		"event": map[string]any{
			"data": map[string]any{
				"entity_id": entityID,
				"old_state": map[string]any{"state": oldState},
				"new_state": map[string]any{"state": newState, "attributes": newAttrs},
			},
		},
	}
}

func newTestListener(t *testing.T, url string, pub Publisher, tel Telemetry) *Listener {
	t.Helper()
	l, err := New(Options{
		URL:          url,
		Token:        "test-token",
		Topic:        "home/events",
		GatewayID:    "gw-test",
		BackoffFloor: 10 * time.Millisecond,
		BackoffCap:   50 * time.Millisecond,
		Publisher:    pub,
		Telemetry:    tel,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewMissingToken(t *testing.T) {
	_, err := New(Options{Publisher: &fakePublisher{}})
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("New() error = %v, want ErrMissingToken", err)
	}
}

func TestNewMissingPublisher(t *testing.T) {
	_, err := New(Options{Token: "tok"})
	if !errors.Is(err, ErrMissingPublisher) {
		t.Errorf("New() error = %v, want ErrMissingPublisher", err)
	}
}

func TestStartTwice(t *testing.T) {
	url, _ := eventSource(t, func(conn *websocket.Conn, _ int64) {
		conn.ReadMessage() // hold the connection open
	})

	pub := &fakePublisher{}
	l := newTestListener(t, url, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	if err := l.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestForwardsChangedEventSuppressesNoOp(t *testing.T) {
	url, _ := eventSource(t, func(conn *websocket.Conn, _ int64) {
		// changed: forwarded
		conn.WriteJSON(stateChangedFrame("sensor.temp", "20.0", "21.5", "°C"))
		// no-op update: suppressed
		conn.WriteJSON(stateChangedFrame("sensor.temp", "21.5", "21.5", "°C"))
		// changed again: forwarded, proves the no-op above was processed
		conn.WriteJSON(stateChangedFrame("sensor.temp", "21.5", "23.0", "°C"))
		conn.ReadMessage() // hold open
	})

	pub := &fakePublisher{}
	tel := &fakeTelemetry{}
	l := newTestListener(t, url, pub, tel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return pub.count() >= 2 }, "expected 2 forwarded envelopes")

	envs := pub.envelopes()
	if len(envs) != 2 {
		t.Fatalf("forwarded %d envelopes, want exactly 2", len(envs))
	}

	env := envs[0]
	if env.Source != envelope.SourceHomeAutomation {
		t.Errorf("Source = %q, want %q", env.Source, envelope.SourceHomeAutomation)
	}
	if env.Gateway == nil || env.Gateway.ID != "gw-test" {
		t.Errorf("Gateway = %+v, want id gw-test", env.Gateway)
	}
	if env.Heartbeat != nil {
		t.Error("event envelope must not carry heartbeat payload")
	}

	// The event body must be carried verbatim.
	body, ok := env.Event.(map[string]any)
	if !ok {
		t.Fatalf("Event body has type %T, want map", env.Event)
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["entity_id"] != "sensor.temp" {
		t.Errorf("event body not verbatim: %v", body)
	}

	tel.mu.Lock()
	defer tel.mu.Unlock()
	if len(tel.writes) != 2 {
		t.Fatalf("telemetry writes = %d, want 2", len(tel.writes))
	}
	if tel.writes[0].metric != "C" || tel.writes[0].value != 21.5 {
		t.Errorf("telemetry write = %+v, want metric C value 21.5", tel.writes[0])
	}
}

func TestDiscardsNonNumericAndNonEventFrames(t *testing.T) {
	url, _ := eventSource(t, func(conn *websocket.Conn, _ int64) {
		// non-event frame: ignored
		conn.WriteJSON(map[string]any{"type": "result", "id": 1, "success": true})
		// non-numeric states: expected noise, discarded
		conn.WriteJSON(stateChangedFrame("binary_sensor.door", "off", "on", ""))
		// missing old state: discarded in changed mode
		conn.WriteJSON(map[string]any{
			"type": "event",
			"event": map[string]any{
				"data": map[string]any{
					"entity_id": "sensor.new",
					"new_state": map[string]any{"state": "1.0"},
				},
			},
		})
		// numeric change: forwarded
		conn.WriteJSON(stateChangedFrame("sensor.temp", "20.0", "21.0", "°C"))
		conn.ReadMessage() // hold open
	})

	pub := &fakePublisher{}
	l := newTestListener(t, url, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return pub.count() >= 1 }, "expected the numeric change to be forwarded")

	if got := pub.count(); got != 1 {
		t.Errorf("forwarded %d envelopes, want exactly 1", got)
	}
}

func TestForwardModeAll(t *testing.T) {
	url, _ := eventSource(t, func(conn *websocket.Conn, _ int64) {
		conn.WriteJSON(stateChangedFrame("binary_sensor.door", "off", "on", ""))
		conn.ReadMessage() // hold open
	})

	pub := &fakePublisher{}
	l, err := New(Options{
		URL:          url,
		Token:        "test-token",
		Topic:        "home/events",
		GatewayID:    "gw-test",
		ForwardMode:  "all",
		BackoffFloor: 10 * time.Millisecond,
		Publisher:    pub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return pub.count() >= 1 }, "all mode should forward non-numeric events")
}

// =============================================================================
// Reconnect Tests
// =============================================================================

func TestReconnectsAfterServerClose(t *testing.T) {
	url, conns := eventSource(t, func(conn *websocket.Conn, connNum int64) {
		if connNum == 1 {
			return // close immediately after handshake, forcing a reconnect
		}
		conn.WriteJSON(stateChangedFrame("sensor.temp", "20.0", "21.0", "°C"))
		conn.ReadMessage() // hold open
	})

	pub := &fakePublisher{}
	l := newTestListener(t, url, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return pub.count() >= 1 }, "expected event after reconnect")

	if got := conns.Load(); got < 2 {
		t.Errorf("connection count = %d, want at least 2", got)
	}
}

func TestRetriesOnAuthFailure(t *testing.T) {
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth map[string]any
		conn.ReadJSON(&auth)
		conn.WriteJSON(map[string]string{"type": "auth_invalid"})
	}))
	t.Cleanup(srv.Close)

	pub := &fakePublisher{}
	l := newTestListener(t, "ws"+strings.TrimPrefix(srv.URL, "http"), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return dials.Load() >= 3 }, "expected repeated reconnect attempts after auth failures")

	if pub.count() != 0 {
		t.Errorf("forwarded %d envelopes despite auth failure, want 0", pub.count())
	}
}

func TestProtocolViolationEndsSession(t *testing.T) {
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// First frame is not auth_required: protocol violation.
		conn.WriteJSON(map[string]string{"type": "hello"})
	}))
	t.Cleanup(srv.Close)

	pub := &fakePublisher{}
	l := newTestListener(t, "ws"+strings.TrimPrefix(srv.URL, "http"), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return dials.Load() >= 2 }, "expected session teardown and reconnect")
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestShutdownWhileStreaming(t *testing.T) {
	url, _ := eventSource(t, func(conn *websocket.Conn, _ int64) {
		conn.ReadMessage() // idle until the listener closes the connection
	})

	pub := &fakePublisher{}
	l := newTestListener(t, url, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give the session a moment to reach streaming, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after cancellation")
	}
}

func TestShutdownDuringBackoffWait(t *testing.T) {
	// Nothing listens on this port, so the listener sits in its backoff wait.
	pub := &fakePublisher{}
	l, err := New(Options{
		URL:          "ws://127.0.0.1:1/api/websocket",
		Token:        "test-token",
		Topic:        "home/events",
		GatewayID:    "gw-test",
		BackoffFloor: 10 * time.Second, // long enough that only shutdown can end the wait
		BackoffCap:   30 * time.Second,
		Publisher:    pub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond) // let the dial fail and the wait begin

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not interrupt the backoff wait")
	}
}

// =============================================================================
// Backoff Tests
// =============================================================================

func TestBackoffResetsAfterStreaming(t *testing.T) {
	const floor = 300 * time.Millisecond

	var mu sync.Mutex
	var dialTimes []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dialTimes = append(dialTimes, time.Now())
		n := len(dialTimes)
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Connections 1 and 2 die mid-handshake, so each reconnect wait
		// doubles. Connection 3 reaches streaming, which must reset the
		// delay back to the floor before it too is closed.
		if n <= 2 {
			conn.WriteJSON(map[string]string{"type": "auth_required"})
			return
		}
		if n == 3 {
			conn.WriteJSON(map[string]string{"type": "auth_required"})
			var auth map[string]any
			if err := conn.ReadJSON(&auth); err != nil {
				return
			}
			conn.WriteJSON(map[string]string{"type": "auth_ok"})
			var sub map[string]any
			if err := conn.ReadJSON(&sub); err != nil {
				return
			}
			return
		}
	}))
	t.Cleanup(srv.Close)

	pub := &fakePublisher{}
	l, err := New(Options{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:        "test-token",
		Topic:        "home/events",
		GatewayID:    "gw-test",
		BackoffFloor: floor,
		BackoffCap:   5 * time.Second,
		Publisher:    pub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	waitFor(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dialTimes) >= 4
	}, "expected 4 connection attempts")
	l.Stop()

	mu.Lock()
	defer mu.Unlock()

	// Second reconnect wait must have doubled (600ms); generous lower
	// bound guards against scheduling jitter.
	if gap := dialTimes[2].Sub(dialTimes[1]); gap < floor*3/2 {
		t.Errorf("delay before attempt 3 = %v, want >= %v (doubled backoff)", gap, floor*3/2)
	}

	// After connection 3 reached streaming the delay must be back at the
	// floor: well under the 1.2s a third doubling would produce.
	if gap := dialTimes[3].Sub(dialTimes[2]); gap >= floor*3 {
		t.Errorf("delay before attempt 4 = %v, want < %v (backoff reset to floor)", gap, floor*3)
	}
}

func TestNextBackoffSequence(t *testing.T) {
	limit := 30 * time.Second
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	current := 1 * time.Second
	for i, expected := range want {
		current = nextBackoff(current, limit)
		if current != expected {
			t.Fatalf("step %d: backoff = %v, want %v", i, current, expected)
		}
	}
}

// =============================================================================
// Filter Tests
// =============================================================================

func TestDecide(t *testing.T) {
	numeric := func(s string) *entityState { return &entityState{State: s} }

	tests := []struct {
		name        string
		mode        string
		data        stateChangedData
		wantForward bool
	}{
		{"changed numeric delta", "changed", stateChangedData{OldState: numeric("20.0"), NewState: numeric("21.5")}, true},
		{"changed no-op", "changed", stateChangedData{OldState: numeric("21.5"), NewState: numeric("21.5")}, false},
		{"changed non-numeric new", "changed", stateChangedData{OldState: numeric("20.0"), NewState: numeric("unavailable")}, false},
		{"changed non-numeric old", "changed", stateChangedData{OldState: numeric("off"), NewState: numeric("1.0")}, false},
		{"changed missing old", "changed", stateChangedData{NewState: numeric("1.0")}, false},
		{"changed missing new", "changed", stateChangedData{OldState: numeric("1.0")}, false},
		{"all non-numeric", "all", stateChangedData{OldState: numeric("off"), NewState: numeric("on")}, true},
		{"all no-op", "all", stateChangedData{OldState: numeric("21.5"), NewState: numeric("21.5")}, true},
		{"all missing new", "all", stateChangedData{OldState: numeric("1.0")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(tt.mode, tt.data)
			if d.forward != tt.wantForward {
				t.Errorf("decide(%q, %+v).forward = %v, want %v", tt.mode, tt.data, d.forward, tt.wantForward)
			}
		})
	}
}

func TestEntityStateValue(t *testing.T) {
	var nilState *entityState
	if _, ok := nilState.value(); ok {
		t.Error("nil state should not parse")
	}

	s := &entityState{State: "21.5"}
	v, ok := s.value()
	if !ok || v != 21.5 {
		t.Errorf("value() = %v, %v, want 21.5, true", v, ok)
	}

	if _, ok := (&entityState{State: "unknown"}).value(); ok {
		t.Error("non-numeric state should not parse")
	}
}

func TestFrameDecoding(t *testing.T) {
	raw := `{"type":"event","event":{"data":{"entity_id":"sensor.temp","old_state":{"state":"20.0"},"new_state":{"state":"21.5","attributes":{"unit_of_measurement":"°C"}}}}}`

	var f frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Type != "event" {
		t.Errorf("Type = %q, want event", f.Type)
	}

	var body eventBody
	if err := json.Unmarshal(f.Event, &body); err != nil {
		t.Fatalf("unmarshal event body: %v", err)
	}
	if body.Data.EntityID != "sensor.temp" {
		t.Errorf("EntityID = %q", body.Data.EntityID)
	}
	if body.Data.NewState.unit() != "°C" {
		t.Errorf("unit = %q, want °C", body.Data.NewState.unit())
	}
}
