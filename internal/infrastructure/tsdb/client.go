package tsdb

import (
	"context"

	"github.com/nerrad567/knx-gateway/internal/gwconfig"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/influxdb"
)

// measurement is the InfluxDB measurement every bus value is written under.
const measurement = "knx_value"

// Client records and retrieves KNX bus value history, backed by InfluxDB.
//
// It is a thin typed layer over influxdb.Client: WriteValue/QueryRecent
// fix the measurement name and tag set this gateway uses, so callers never
// build Flux or line-protocol points themselves.
type Client struct {
	influx *influxdb.Client
	bucket string
}

// Connect establishes the underlying InfluxDB connection.
func Connect(ctx context.Context, cfg gwconfig.InfluxConfig) (*Client, error) {
	influx, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{influx: influx, bucket: cfg.Bucket}, nil
}

// Close flushes pending writes and disconnects.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}
	return c.influx.Close()
}

// HealthCheck verifies the underlying InfluxDB connection.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.influx.HealthCheck(ctx)
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c != nil && c.influx != nil && c.influx.IsConnected()
}

// SetOnError sets a callback invoked when an asynchronous write fails.
func (c *Client) SetOnError(callback func(err error)) {
	c.influx.SetOnError(callback)
}

// Flush forces all pending writes to be sent. Useful before shutdown.
func (c *Client) Flush() {
	c.influx.Flush()
}
