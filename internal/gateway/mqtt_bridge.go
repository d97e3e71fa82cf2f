package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/knx-gateway/internal/infrastructure/mqtt"
)

// publishState mirrors a decoded bus value onto the retained state topic
// for ga.
func (c *Client) publishState(ga string, value any) {
	entry := c.addrIndex[ga]
	msg := StateMessage{
		GA:        ga,
		DPT:       entry.DPT,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("failed to marshal state message", "ga", ga, "error", err)
		return
	}
	topic := mqtt.Topics{}.State(ga)
	if err := c.mqtt.Publish(topic, payload, 1, true); err != nil {
		c.logger.Warn("failed to publish state", "topic", topic, "error", err)
	}
}

// BridgeMQTTCommands subscribes to every command topic and drives Write for
// each accepted CommandMessage, publishing an AckMessage in response.
func (c *Client) BridgeMQTTCommands(client *mqtt.Client) error {
	topic := mqtt.Topics{}.AllCommands()
	return client.Subscribe(topic, 1, func(t string, payload []byte) error {
		ga := strings.TrimPrefix(t, "knx/command/")

		var cmd CommandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("unmarshal command message: %w", err)
		}
		if cmd.GA == "" {
			cmd.GA = ga
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ack := AckMessage{CommandID: cmd.ID, GA: cmd.GA, Timestamp: time.Now().UTC()}
		if err := c.Write(ctx, cmd.GA, cmd.DPT, cmd.Value); err != nil {
			ack.Status = AckFailed
			ack.Error = err.Error()
		} else {
			ack.Status = AckAccepted
		}

		ackPayload, err := json.Marshal(ack)
		if err != nil {
			return fmt.Errorf("marshal ack message: %w", err)
		}
		return client.Publish(fmt.Sprintf("knx/ack/%s", cmd.GA), ackPayload, 1, false)
	})
}

// PublishHealth publishes the gateway's current status to knx/health,
// retained, the same periodic self-report this codebase's bridge layer
// always carries.
func (c *Client) PublishHealth(client *mqtt.Client) error {
	stats := c.Stats()
	msg := HealthMessage{
		GatewayID:     c.cfg.Gateway.ID,
		Mode:          stats.Mode,
		Connected:     stats.Connected,
		UptimeSeconds: stats.UptimeSeconds,
		IndicationsRx: stats.IndicationsRx,
		WritesTx:      stats.WritesTx,
		Timestamp:     time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal health message: %w", err)
	}
	return client.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}
