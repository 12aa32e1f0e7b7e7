package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openiotai/gateway-core/internal/envelope"
	"github.com/openiotai/gateway-core/internal/sanitize"
)

// dialTimeout bounds the WebSocket handshake.
const dialTimeout = 10 * time.Second

// Publisher is the outbound side the listener forwards envelopes to.
// Satisfied by the infrastructure mqtt.Client.
type Publisher interface {
	PublishEnvelope(topic string, env envelope.Envelope) error
}

// Telemetry receives forwarded measurement values. Satisfied by the
// infrastructure influxdb.Client. Optional.
type Telemetry interface {
	WriteSensorValue(entityID string, metric string, value float64)
}

// Logger interface for structured logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Listener.
type Options struct {
	// URL is the event source WebSocket endpoint.
	URL string

	// Token authenticates to the event source. Required.
	Token string

	// Topic is the MQTT topic envelopes are published to.
	Topic string

	// GatewayID tags forwarded envelopes.
	GatewayID string

	// ForwardMode is "changed" (default) or "all".
	ForwardMode string

	// BackoffFloor is the initial reconnect delay. Defaults to 1s.
	BackoffFloor time.Duration

	// BackoffCap bounds the reconnect delay. Defaults to 30s.
	BackoffCap time.Duration

	// Publisher receives forwarded envelopes. Required.
	Publisher Publisher

	// Telemetry optionally mirrors forwarded values to a time-series sink.
	Telemetry Telemetry

	// Logger is optional; a nil logger drops all output.
	Logger Logger
}

// Listener owns the persistent connection to the event source.
//
// Thread Safety:
//   - Start and Stop are safe to call from any goroutine.
//   - The session runs in a single internal goroutine; backoff state is
//     local to that goroutine.
type Listener struct {
	opts Options

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a Listener.
//
// Returns:
//   - *Listener: Ready to Start
//   - error: ErrMissingToken or ErrMissingPublisher on fatal misconfiguration
func New(opts Options) (*Listener, error) {
	if opts.Token == "" {
		return nil, ErrMissingToken
	}
	if opts.Publisher == nil {
		return nil, ErrMissingPublisher
	}
	if opts.BackoffFloor <= 0 {
		opts.BackoffFloor = 1 * time.Second
	}
	if opts.BackoffCap < opts.BackoffFloor {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.ForwardMode == "" {
		opts.ForwardMode = "changed"
	}

	return &Listener{
		opts: opts,
		done: make(chan struct{}),
	}, nil
}

// Start launches the reconnect loop in a background goroutine.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Stop signals the listener to shut down and waits for the loop to exit.
// Idempotent with respect to context cancellation: either path unwinds
// the same goroutine exactly once.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
}

// run is the outer reconnect loop. Any session failure waits for the
// backoff to elapse (or shutdown, whichever first) and retries. Backoff
// doubles per consecutive failure, capped, and resets to the floor once a
// session reaches streaming.
func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	backoff := l.opts.BackoffFloor

	for {
		select {
		case <-ctx.Done():
			l.logInfo("listener shutting down")
			return
		case <-l.done:
			l.logInfo("listener shutting down")
			return
		default:
		}

		err := l.session(ctx, &backoff)
		if ctx.Err() != nil || l.stopped() {
			l.logInfo("listener shutting down")
			return
		}
		l.logWarn("session ended, reconnecting", "error", err, "backoff", backoff.String())

		select {
		case <-ctx.Done():
			l.logInfo("listener shutting down")
			return
		case <-l.done:
			l.logInfo("listener shutting down")
			return
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff, l.opts.BackoffCap)
	}
}

// nextBackoff doubles the delay, capped.
func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

// stopped reports whether Stop has been called.
func (l *Listener) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// session runs one connection lifecycle: connect, authenticate, subscribe,
// stream. It returns when the connection fails or shutdown is requested.
// Backoff resets to the floor once streaming is entered.
func (l *Listener) session(ctx context.Context, backoff *time.Duration) error {
	l.logInfo("connecting to event source", "url", l.opts.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, l.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	defer conn.Close()

	// Unblock pending reads when shutdown is requested; ReadJSON has no
	// context parameter, so closing the connection is the wakeup. The
	// watcher is scoped to this session so reconnects don't accumulate
	// goroutines.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-l.done:
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	if err := l.authenticate(conn); err != nil {
		return err
	}

	if err := l.subscribe(conn); err != nil {
		return err
	}

	// Streaming reached: the connection is good, so consecutive-failure
	// backoff starts over.
	*backoff = l.opts.BackoffFloor
	l.logInfo("streaming state_changed events")

	return l.stream(ctx, conn)
}

// authenticate performs the fixed auth handshake.
//
// The first inbound frame must be auth_required; the response to our
// credentials must be auth_ok. Anything else fails the session.
func (l *Listener) authenticate(conn *websocket.Conn) error {
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading auth challenge: %w", err)
	}
	if hello.Type != frameAuthRequired {
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocolViolation, frameAuthRequired, hello.Type)
	}

	auth := map[string]string{
		"type":         frameAuth,
		"access_token": l.opts.Token,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("sending credentials: %w", err)
	}

	var resp frame
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}
	if resp.Type != frameAuthOK {
		return fmt.Errorf("%w: got %q", ErrAuthFailed, resp.Type)
	}

	l.logInfo("authenticated to event source")
	return nil
}

// subscribe sends the subscribe_events request. No acknowledgment is
// awaited; the subscription is active once the request is sent.
func (l *Listener) subscribe(conn *websocket.Conn) error {
	req := map[string]any{
		"id":         subscribeRequestID,
		"type":       frameSubscribe,
		"event_type": eventTypeStateChanged,
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending subscribe request: %w", err)
	}

	l.logInfo("subscribed to events", "event_type", eventTypeStateChanged)
	return nil
}

// stream receives frames until the connection fails or shutdown is
// requested. Non-event frames are discarded; event frames go through the
// forwarding policy.
func (l *Listener) stream(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.stopped() {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		if f.Type != frameEvent {
			l.logDebug("discarding non-event frame", "type", f.Type, "id", f.ID)
			continue
		}

		l.handleEvent(f.Event)
	}
}

// handleEvent filters one raw event body and forwards it if it passes.
// Malformed bodies and filtered events are expected noise; they are
// dropped without an error-level log.
func (l *Listener) handleEvent(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}

	var body eventBody
	if err := json.Unmarshal(raw, &body); err != nil {
		l.logDebug("discarding malformed event body", "error", err)
		return
	}

	d := decide(l.opts.ForwardMode, body.Data)
	if !d.forward {
		return
	}

	// The envelope carries the original body verbatim; decode into a
	// generic value so the sanitizer can walk it at publish time.
	var verbatim any
	if err := json.Unmarshal(raw, &verbatim); err != nil {
		l.logDebug("discarding undecodable event body", "error", err)
		return
	}

	env := envelope.NewEvent(l.opts.GatewayID, verbatim)
	if err := l.opts.Publisher.PublishEnvelope(l.opts.Topic, env); err != nil {
		l.logWarn("publish failed", "entity_id", body.Data.EntityID, "error", err)
		return
	}
	l.logDebug("event forwarded", "entity_id", body.Data.EntityID)

	if l.opts.Telemetry != nil && d.numeric {
		metric := sanitize.NormalizeUnit(body.Data.NewState.unit())
		l.opts.Telemetry.WriteSensorValue(body.Data.EntityID, metric, d.newValue)
	}
}

func (l *Listener) logDebug(msg string, args ...any) {
	if l.opts.Logger != nil {
		l.opts.Logger.Debug(msg, args...)
	}
}

func (l *Listener) logInfo(msg string, args ...any) {
	if l.opts.Logger != nil {
		l.opts.Logger.Info(msg, args...)
	}
}

func (l *Listener) logWarn(msg string, args ...any) {
	if l.opts.Logger != nil {
		l.opts.Logger.Warn(msg, args...)
	}
}
