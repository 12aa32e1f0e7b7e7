package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the gateway.
// It merges the add-on options file, the optional gateway tuning file,
// and environment variable overrides.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Listener  ListenerConfig  `yaml:"listener"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`

	// GatewayID tags every outbound envelope. From options gateway_id.
	GatewayID string `yaml:"-"`

	// Topic is the MQTT topic all envelopes are published to.
	// From options mqtt_topic, required.
	Topic string `yaml:"-"`
}

// MQTTConfig contains MQTT broker connection settings.
// Host, port, and credentials come from the options file; the rest are
// tuning values.
type MQTTConfig struct {
	Host     string `yaml:"-"`
	Port     int    `yaml:"-"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`

	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

// ListenerConfig contains event-source connection settings.
type ListenerConfig struct {
	// URL is the Home Assistant WebSocket endpoint.
	URL string `yaml:"url"`

	// Token authenticates to the event source. From SUPERVISOR_TOKEN, required.
	Token string `yaml:"-"`

	// ForwardMode selects the event filtering policy:
	//   - "changed": forward only numeric value changes (default)
	//   - "all": forward every well-formed state_changed event
	ForwardMode string `yaml:"forward_mode"`

	// BackoffInitial is the reconnect backoff floor in seconds.
	BackoffInitial int `yaml:"backoff_initial"`

	// BackoffMax is the reconnect backoff cap in seconds.
	BackoffMax int `yaml:"backoff_max"`
}

// HeartbeatConfig contains liveness message settings.
type HeartbeatConfig struct {
	// Interval between heartbeats in seconds.
	// From options heartbeat_interval_seconds, must be positive.
	Interval int `yaml:"-"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InfluxDBConfig contains settings for the optional telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// options mirrors the add-on options JSON schema.
type options struct {
	MQTTHost                 string `json:"mqtt_host"`
	MQTTPort                 int    `json:"mqtt_port"`
	MQTTUsername             string `json:"mqtt_username"`
	MQTTPassword             string `json:"mqtt_password"`
	MQTTTopic                string `json:"mqtt_topic"`
	GatewayID                string `json:"gateway_id"`
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds"`
}

// Forward modes accepted in ListenerConfig.ForwardMode.
const (
	ForwardChanged = "changed"
	ForwardAll     = "all"
)

// Load reads, merges, and validates gateway configuration.
//
// Precedence, lowest to highest: built-in defaults, the gateway tuning file
// (skipped silently if absent), the options file (required), environment
// variables.
//
// Parameters:
//   - optionsPath: Path to the add-on options JSON file
//   - gatewayPath: Path to the optional gateway tuning YAML file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If a file cannot be read or parsed, or validation fails
func Load(optionsPath, gatewayPath string) (*Config, error) {
	cfg := defaultConfig()

	if err := loadGatewayFile(cfg, gatewayPath); err != nil {
		return nil, fmt.Errorf("loading gateway config: %w", err)
	}

	if err := loadOptionsFile(cfg, optionsPath); err != nil {
		return nil, fmt.Errorf("loading options: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Port: 8883,
			TLS:  true,
			QoS:  1,
		},
		Listener: ListenerConfig{
			URL:            "ws://supervisor/core/api/websocket",
			ForwardMode:    ForwardChanged,
			BackoffInitial: 1,
			BackoffMax:     30,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		GatewayID: "unknown",
	}
}

// loadGatewayFile merges the optional YAML tuning file into cfg.
// A missing file is not an error; the defaults stand.
func loadGatewayFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

// loadOptionsFile merges the required add-on options JSON file into cfg.
func loadOptionsFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var opts options
	if err := json.Unmarshal(data, &opts); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.MQTT.Host = opts.MQTTHost
	if opts.MQTTPort != 0 {
		cfg.MQTT.Port = opts.MQTTPort
	}
	cfg.MQTT.Username = opts.MQTTUsername
	cfg.MQTT.Password = opts.MQTTPassword
	cfg.Topic = strings.TrimSpace(opts.MQTTTopic)
	if opts.GatewayID != "" {
		cfg.GatewayID = opts.GatewayID
	}
	if opts.HeartbeatIntervalSeconds != 0 {
		cfg.Heartbeat.Interval = opts.HeartbeatIntervalSeconds
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Variables follow the pattern IOTGATEWAY_SECTION_KEY,
// except SUPERVISOR_TOKEN which the add-on supervisor injects.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUPERVISOR_TOKEN"); v != "" {
		cfg.Listener.Token = v
	}

	if v := os.Getenv("IOTGATEWAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("IOTGATEWAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("IOTGATEWAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	if v := os.Getenv("IOTGATEWAY_LISTENER_URL"); v != "" {
		cfg.Listener.URL = v
	}

	if v := os.Getenv("IOTGATEWAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt_host is required (set it in the add-on Configuration tab)")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt_port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Topic == "" {
		errs = append(errs, "mqtt_topic is required and must be non-empty (set it in the add-on Configuration tab)")
	}

	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, "heartbeat_interval_seconds must be positive")
	}

	if c.Listener.Token == "" {
		errs = append(errs, "SUPERVISOR_TOKEN not found in environment")
	}
	if c.Listener.URL == "" {
		errs = append(errs, "listener.url is required")
	}
	if c.Listener.ForwardMode != ForwardChanged && c.Listener.ForwardMode != ForwardAll {
		errs = append(errs, `listener.forward_mode must be "changed" or "all"`)
	}
	if c.Listener.BackoffInitial < 1 {
		errs = append(errs, "listener.backoff_initial must be at least 1")
	}
	if c.Listener.BackoffMax < c.Listener.BackoffInitial {
		errs = append(errs, "listener.backoff_max must be >= listener.backoff_initial")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

// GetBackoffInitial returns the reconnect backoff floor as a Duration.
func (c *Config) GetBackoffInitial() time.Duration {
	return time.Duration(c.Listener.BackoffInitial) * time.Second
}

// GetBackoffMax returns the reconnect backoff cap as a Duration.
func (c *Config) GetBackoffMax() time.Duration {
	return time.Duration(c.Listener.BackoffMax) * time.Second
}
