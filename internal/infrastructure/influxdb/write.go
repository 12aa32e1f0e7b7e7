package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorValue records a forwarded measurement value.
//
// Called by the event listener for every envelope it forwards, so the
// time-series mirrors what was published to MQTT. The write is non-blocking;
// data is batched and sent asynchronously.
//
// Parameters:
//   - entityID: Home Assistant entity (e.g., "sensor.living_room_temp")
//   - metric: Unit-normalized metric name (e.g., "temperature_C"); may be ""
//   - value: The numeric state value
//
// Example:
//
//	client.WriteSensorValue("sensor.living_room_temp", "C", 21.5)
func (c *Client) WriteSensorValue(entityID string, metric string, value float64) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"entity_id": entityID,
	}
	if metric != "" {
		tags["metric"] = metric
	}

	point := write.NewPoint(
		"sensor_values",
		tags,
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteGatewayStats records the gateway's cumulative publish counters.
//
// Parameters:
//   - gatewayID: The gateway identity string
//   - published: Envelopes successfully published since process start
//   - bytesSent: Payload bytes successfully published since process start
func (c *Client) WriteGatewayStats(gatewayID string, published uint64, bytesSent uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"gateway_stats",
		map[string]string{
			"gateway_id": gatewayID,
		},
		map[string]interface{}{
			"published":  int64(published),
			"bytes_sent": int64(bytesSent),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes an arbitrary point to InfluxDB.
//
// Escape hatch for telemetry that doesn't fit the helpers above.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
