// Package gateway orchestrates one KNXnet/IP connection (tunneling or
// routing, chosen from gwconfig.GatewayConfig.Connection) together with the
// optional northbound MQTT bridge, InfluxDB telemetry sink, and passive bus
// discovery recorder.
//
// It normalises the tunnel and routing clients' distinct event streams into
// a single Event type matching the public event surface every bus client in
// this codebase exposes (connected, disconnected, error, indication,
// routing_busy, routing_lost_message, ack_received, ack_timeout,
// queue_overflow), and fans each indication out to MQTT state publication,
// timeseries writes, and discovery recording.
//
// # Usage
//
//	gw, err := gateway.New(cfg, logger)
//	gw.SetMQTT(mqttClient)
//	gw.SetTSDB(tsdbClient)
//	gw.SetDiscovery(recorder)
//	go gw.Run(ctx)
//	...
//	gw.Write(ctx, "1/2/3", "", 1.0)
//
// # Thread Safety
//
// All exported methods are safe for concurrent use from multiple goroutines.
package gateway
