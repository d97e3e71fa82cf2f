// Package influxdb provides InfluxDB connectivity for the KNX gateway.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing, and health monitoring. The gateway's
// tsdb package layers a typed value history on top of this wrapper.
//
// # Usage
//
//	cfg := gwconfig.InfluxConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "knx",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("knx_value",
//	    map[string]string{"ga": "1/2/3", "dpt": "9.001"},
//	    map[string]interface{}{"value": 21.4})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback. Connection and health check errors are returned directly.
package influxdb
