// OpenIoT.AI Gateway
//
// This is the main entry point for the gateway process. The gateway bridges
// the Home Assistant event bus to an MQTT broker:
//   - Authenticates to the Home Assistant WebSocket API
//   - Subscribes to state_changed events, filters them, and republishes
//     them as sanitized JSON envelopes
//   - Emits periodic heartbeat envelopes so downstream consumers can
//     detect liveness
//
// The process runs until an interrupt or terminate signal and exits 0 on
// graceful shutdown, non-zero on any fatal configuration or dependency
// failure detected before the streaming loop starts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openiotai/gateway-core/internal/heartbeat"
	"github.com/openiotai/gateway-core/internal/infrastructure/config"
	"github.com/openiotai/gateway-core/internal/infrastructure/influxdb"
	"github.com/openiotai/gateway-core/internal/infrastructure/logging"
	"github.com/openiotai/gateway-core/internal/infrastructure/mqtt"
	"github.com/openiotai/gateway-core/internal/listener"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file paths.
const (
	defaultOptionsPath = "/data/options.json"
	defaultGatewayPath = "configs/gateway.yaml"
)

// statsInterval is how often cumulative publish counters go to the
// telemetry sink.
const statsInterval = 60 * time.Second

func main() {
	// Cancel the root context on interrupt signals (Ctrl+C, SIGTERM).
	// Repeated signals are idempotent: the context is cancelled once.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	optionsPath, gatewayPath := getConfigPaths()
	cfg, err := config.Load(optionsPath, gatewayPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "options", optionsPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to MQTT broker. Failure here is fatal: without the broker
	// there is nothing to publish to.
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Topic)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT",
			"published", mqttClient.Published(),
			"bytes_sent", mqttClient.BytesSent(),
		)
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"tls", cfg.MQTT.TLS,
		"topic", cfg.Topic,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional telemetry sink)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the event listener
	eventListener, err := newListener(cfg, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	if err := eventListener.Start(ctx); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	defer func() {
		log.Info("stopping listener")
		eventListener.Stop()
	}()

	// Start the heartbeat ticker
	ticker := heartbeat.New(
		cfg.GetHeartbeatInterval(),
		cfg.Topic,
		cfg.GatewayID,
		mqttClient,
		log.With("component", "heartbeat"),
	)
	if err := ticker.Start(ctx); err != nil {
		return fmt.Errorf("starting heartbeat: %w", err)
	}
	defer func() {
		log.Info("stopping heartbeat", "counter", ticker.Counter())
		ticker.Stop()
	}()

	// Periodically mirror publish counters to the telemetry sink
	if influxClient != nil {
		go reportStats(ctx, cfg.GatewayID, mqttClient, influxClient)
	}

	log.Info("initialisation complete, gateway running",
		"gateway_id", cfg.GatewayID,
		"heartbeat_interval", cfg.GetHeartbeatInterval().String(),
		"forward_mode", cfg.Listener.ForwardMode,
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred stops run in reverse order:
	// 1. Heartbeat ticker
	// 2. Event listener
	// 3. InfluxDB (if enabled)
	// 4. MQTT

	log.Info("gateway stopped")
	return nil
}

// newListener wires the event listener from config and collaborators.
func newListener(cfg *config.Config, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*listener.Listener, error) {
	opts := listener.Options{
		URL:          cfg.Listener.URL,
		Token:        cfg.Listener.Token,
		Topic:        cfg.Topic,
		GatewayID:    cfg.GatewayID,
		ForwardMode:  cfg.Listener.ForwardMode,
		BackoffFloor: cfg.GetBackoffInitial(),
		BackoffCap:   cfg.GetBackoffMax(),
		Publisher:    mqttClient,
		Logger:       log.With("component", "listener"),
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	return listener.New(opts)
}

// reportStats periodically writes cumulative publish counters to InfluxDB.
func reportStats(ctx context.Context, gatewayID string, mqttClient *mqtt.Client, influxClient *influxdb.Client) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			influxClient.WriteGatewayStats(gatewayID, mqttClient.Published(), mqttClient.BytesSent())
		}
	}
}

// getConfigPaths returns the options and gateway config file paths.
// Uses IOTGATEWAY_OPTIONS and IOTGATEWAY_CONFIG environment variables if
// set, otherwise defaults.
func getConfigPaths() (optionsPath, gatewayPath string) {
	optionsPath = defaultOptionsPath
	if path := os.Getenv("IOTGATEWAY_OPTIONS"); path != "" {
		optionsPath = path
	}
	gatewayPath = defaultGatewayPath
	if path := os.Getenv("IOTGATEWAY_CONFIG"); path != "" {
		gatewayPath = path
	}
	return optionsPath, gatewayPath
}
