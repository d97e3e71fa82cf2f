// Package tsdb layers a typed bus-value history on top of the raw
// influxdb client: one point per decoded inbound write or response,
// measurement "knx_value", tagged by group address and DPT.
//
// # Usage
//
//	cfg := gwconfig.InfluxConfig{URL: "http://localhost:8086", Token: "...", Org: "knx", Bucket: "telemetry"}
//	client, err := tsdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteValue("1/2/3", "9.001", 21.4)
//	points, err := client.QueryRecent(ctx, "1/2/3", 50)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package tsdb
