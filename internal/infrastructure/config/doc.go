// Package config handles loading and validating gateway configuration.
//
// Configuration comes from two places:
//   - The add-on options file (JSON, default /data/options.json): the
//     user-facing settings exposed in the add-on Configuration tab —
//     broker address, credentials, topic, gateway identity, heartbeat
//     interval.
//   - An optional gateway tuning file (YAML): operator settings that are
//     not user-facing — logging, WebSocket endpoint, reconnect backoff
//     bounds, forward mode, and the optional InfluxDB telemetry sink.
//
// The Home Assistant access token is never stored in either file; it is
// read from the SUPERVISOR_TOKEN environment variable and is required.
//
// Security Considerations:
//   - Broker credentials and tokens should be set via environment variables
//     where possible
//   - Config files should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("/data/options.json", "configs/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Host)
package config
