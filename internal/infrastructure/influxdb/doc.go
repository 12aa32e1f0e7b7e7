// Package influxdb provides an optional time-series telemetry sink for the
// gateway.
//
// When enabled, the gateway records two kinds of points:
//   - sensor_values: every numeric measurement forwarded to MQTT, tagged
//     with entity ID and unit-normalized metric name
//   - gateway_stats: publish counters (envelopes, bytes) for observability
//
// Writes are non-blocking and batched; a failed or disabled InfluxDB never
// affects the MQTT publish path.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off, carry on
//	}
//	client.WriteSensorValue("sensor.temp", "temperature_C", 21.5)
package influxdb
