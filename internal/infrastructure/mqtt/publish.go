package mqtt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/openiotai/gateway-core/internal/envelope"
	"github.com/openiotai/gateway-core/internal/sanitize"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// stats holds publish counters, updated atomically.
type stats struct {
	published atomic.Uint64 // Envelopes successfully published
	bytesSent atomic.Uint64 // Payload bytes successfully published
	failed    atomic.Uint64 // Publish attempts that failed
}

// PublishEnvelope sanitizes, serializes, and publishes an envelope to the
// given topic.
//
// The envelope's map form is run through sanitize.DeepClean (control
// characters stripped and whitespace trimmed from every string, recursively),
// serialized to JSON, and published at the configured QoS (default 1:
// at least once — the broker must acknowledge, duplicates are possible).
//
// On success the envelope and byte counters are incremented. Failures are
// returned for the caller to log; they are never fatal and the next envelope
// is attempted independently.
//
// Parameters:
//   - topic: The topic to publish to
//   - env: The envelope to publish
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) PublishEnvelope(topic string, env envelope.Envelope) error {
	clean := sanitize.DeepClean(env.Map())

	payload, err := json.Marshal(clean)
	if err != nil {
		c.stats.failed.Add(1)
		return fmt.Errorf("%w: encoding envelope: %w", ErrPublishFailed, err)
	}

	if err := c.Publish(topic, payload, byte(c.cfg.QoS), false); err != nil {
		c.stats.failed.Add(1)
		return err
	}

	c.stats.published.Add(1)
	c.stats.bytesSent.Add(uint64(len(payload)))
	return nil
}

// Publish sends a raw payload to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// Published returns the number of envelopes successfully published.
func (c *Client) Published() uint64 {
	return c.stats.published.Load()
}

// BytesSent returns the total payload bytes successfully published.
func (c *Client) BytesSent() uint64 {
	return c.stats.bytesSent.Load()
}

// PublishFailures returns the number of failed publish attempts.
func (c *Client) PublishFailures() uint64 {
	return c.stats.failed.Load()
}
