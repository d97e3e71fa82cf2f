// Package mqtt provides MQTT client connectivity for the gateway's
// northbound bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The gateway mirrors bus state onto MQTT and accepts commands from it,
// decoupling whatever consumes KNX state (dashboards, automation, other
// services) from the KNXnet/IP connection itself.
//
//	KNX bus ↔ gateway ↔ MQTT broker ↔ consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (an ssl:// broker URL)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all command topics
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish state
//	topic := mqtt.Topics{}.State("1/2/3")
//	client.Publish(topic, []byte(`{"value":true}`), 1, true)
package mqtt
