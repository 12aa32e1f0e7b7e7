package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/openiotai/gateway-core/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1", // nothing listens here
		Token:   "test-token",
		Org:     "test",
		Bucket:  "test",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestWritesNoOpWhenDisconnected(t *testing.T) {
	// A zero-value client is disconnected; writes must be silent no-ops
	// rather than panics, since the MQTT path never waits on telemetry.
	c := &Client{}

	c.WriteSensorValue("sensor.temp", "C", 21.5)
	c.WriteGatewayStats("gw-01", 10, 2048)
	c.WritePoint("custom", map[string]string{"k": "v"}, map[string]interface{}{"f": 1})
	c.Flush()
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero-value client = %v, want nil", err)
	}
}
