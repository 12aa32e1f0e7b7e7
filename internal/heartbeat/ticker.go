package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openiotai/gateway-core/internal/envelope"
)

// ErrAlreadyRunning is returned by Start when the ticker is running.
var ErrAlreadyRunning = errors.New("heartbeat: already running")

// Publisher is the outbound side heartbeats are sent through.
// Satisfied by the infrastructure mqtt.Client.
type Publisher interface {
	PublishEnvelope(topic string, env envelope.Envelope) error
}

// Logger interface for structured logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Ticker sends a heartbeat envelope at a fixed interval.
//
// Thread Safety:
//   - Start and Stop are safe to call from any goroutine.
//   - The counter is owned by the ticker; Counter() may be read concurrently.
type Ticker struct {
	interval  time.Duration
	topic     string
	gatewayID string
	pub       Publisher
	logger    Logger

	counter atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a Ticker. The interval must be positive (validated at the
// config layer).
func New(interval time.Duration, topic, gatewayID string, pub Publisher, logger Logger) *Ticker {
	return &Ticker{
		interval:  interval,
		topic:     topic,
		gatewayID: gatewayID,
		pub:       pub,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start launches the heartbeat loop in a background goroutine.
func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx)
	return nil
}

// Stop signals the ticker to shut down and waits for the loop to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
}

// Counter returns the number of heartbeats sent so far.
func (t *Ticker) Counter() uint64 {
	return t.counter.Load()
}

// run waits for either the interval to elapse or shutdown, whichever
// comes first. A tick that races shutdown is dropped: once the shutdown
// signal is observed no heartbeat goes out.
func (t *Ticker) run(ctx context.Context) {
	defer t.wg.Done()

	if t.logger != nil {
		t.logger.Info("heartbeat started", "interval", t.interval.String())
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logStop()
			return
		case <-t.done:
			t.logStop()
			return
		case <-ticker.C:
			// A tick and the shutdown signal can arrive together;
			// shutdown wins.
			select {
			case <-ctx.Done():
				t.logStop()
				return
			case <-t.done:
				t.logStop()
				return
			default:
			}

			t.beat()
		}
	}
}

// beat increments the counter and publishes one heartbeat envelope.
// Publish failures are logged and swallowed; the next interval gets a
// fresh attempt with the next counter value.
func (t *Ticker) beat() {
	n := t.counter.Add(1)
	env := envelope.NewHeartbeat(t.gatewayID, n)

	if err := t.pub.PublishEnvelope(t.topic, env); err != nil {
		if t.logger != nil {
			t.logger.Warn("heartbeat publish failed", "counter", n, "error", err)
		}
		return
	}

	if t.logger != nil {
		t.logger.Debug("heartbeat sent", "counter", n)
	}
}

func (t *Ticker) logStop() {
	if t.logger != nil {
		t.logger.Info("heartbeat stopped", "counter", t.counter.Load())
	}
}
