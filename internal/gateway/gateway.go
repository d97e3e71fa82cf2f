package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knx-gateway/internal/gwconfig"
	"github.com/nerrad567/knx-gateway/internal/knx/address"
	"github.com/nerrad567/knx-gateway/internal/knx/apdu"
	"github.com/nerrad567/knx-gateway/internal/knx/cemi"
	"github.com/nerrad567/knx-gateway/internal/knx/ctrlfield"
	"github.com/nerrad567/knx-gateway/internal/knx/dpt"
	"github.com/nerrad567/knx-gateway/internal/knx/routing"
	"github.com/nerrad567/knx-gateway/internal/knx/tunnel"
)

// EventKind discriminates the gateway's normalised event stream, matching
// the public event surface every bus client in this codebase exposes
// regardless of transport.
type EventKind int

// Event kinds.
const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventIndication
	EventRoutingBusy
	EventRoutingLostMessage
	EventAckReceived
	EventAckTimeout
	EventQueueOverflow
)

// String renders a human-readable event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventIndication:
		return "indication"
	case EventRoutingBusy:
		return "routing_busy"
	case EventRoutingLostMessage:
		return "routing_lost_message"
	case EventAckReceived:
		return "ack_received"
	case EventAckTimeout:
		return "ack_timeout"
	case EventQueueOverflow:
		return "queue_overflow"
	default:
		return "unknown"
	}
}

// Event is one entry in the gateway's normalised event stream.
type Event struct {
	Kind  EventKind
	Err   error
	Frame cemi.Frame
	Seq   uint8
}

// Stats is the liveness/counter snapshot served on the control API's
// /stats endpoint.
type Stats struct {
	Mode            string `json:"mode"`
	Connected       bool   `json:"connected"`
	IndicationsRx   uint64 `json:"indications_rx"`
	WritesTx        uint64 `json:"writes_tx"`
	AckTimeouts     uint64 `json:"ack_timeouts"`
	BusyEvents      uint64 `json:"busy_events"`
	QueueOverflows  uint64 `json:"queue_overflows"`
	QueueDepth      int    `json:"queue_depth"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// mqttSink is the subset of the mqtt.Client surface the gateway needs for
// state publication. Declared locally so the gateway package never imports
// MQTT transport types it doesn't itself construct.
type mqttSink interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// tsdbSink is the subset of the tsdb.Client surface the gateway needs for
// timeseries writes.
type tsdbSink interface {
	WriteValue(ga, dpt string, value float64)
}

// discoverySink is the subset of the discovery.Recorder surface the gateway
// feeds passively observed frames to.
type discoverySink interface {
	RecordFrame(frame cemi.Frame)
}

// Client orchestrates one KNXnet/IP bus connection (tunneling or routing)
// together with the optional MQTT bridge, timeseries sink, and discovery
// recorder.
type Client struct {
	cfg    *gwconfig.Config
	logger *slog.Logger
	mode   Mode

	tunnelClient  *tunnel.Client
	routingClient *routing.Client

	addrIndex map[string]gwconfig.AddressConfig

	mqtt      mqttSink
	tsdb      tsdbSink
	discovery discoverySink

	events chan Event

	connected atomic.Bool
	startTime time.Time

	mu             sync.Mutex
	indicationsRx  uint64
	writesTx       uint64
	ackTimeouts    uint64
	busyEvents     uint64
	queueOverflows uint64
}

// New constructs a Client from the gateway's configuration. The underlying
// transport is not started until Run is called.
func New(cfg *gwconfig.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode, addr, err := parseConnection(cfg.Gateway.Connection)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		mode:      mode,
		addrIndex: cfg.BuildAddressIndex(),
		events:    make(chan Event, 64),
		startTime: time.Now(),
	}

	switch mode {
	case ModeTunnel:
		c.tunnelClient = tunnel.New(tunnel.Config{
			GatewayAddr:       addr,
			ConnectTimeout:    cfg.ConnectTimeoutDuration(),
			HeartbeatInterval: cfg.HeartbeatIntervalDuration(),
			HeartbeatTimeout:  cfg.HeartbeatTimeoutDuration(),
			AckTimeout:        cfg.AckTimeoutDuration(),
			Logger:            logger,
		})
	case ModeRouting:
		c.routingClient = routing.New(routing.Config{
			Port:   uint16(addr.Port),
			Logger: logger,
		})
	}

	return c, nil
}

// SetMQTT wires an MQTT client for retained state publication and command
// subscription. Commands are wired separately via BridgeMQTTCommands.
func (c *Client) SetMQTT(client mqttSink) {
	c.mqtt = client
}

// SetTSDB wires a timeseries client; every decoded inbound value with a
// numeric form (see numericValue) is then recorded as a knx_value point.
// Strings, structs and enumerations are not written.
func (c *Client) SetTSDB(client tsdbSink) {
	c.tsdb = client
}

// SetDiscovery wires a passive discovery recorder; every inbound frame is
// fed to it regardless of whether it decodes.
func (c *Client) SetDiscovery(recorder discoverySink) {
	c.discovery = recorder
}

// Events returns the gateway's normalised event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run connects (or starts, in routing mode) the underlying bus client and
// pumps its events through the gateway's fan-out (MQTT, tsdb, discovery)
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	switch c.mode {
	case ModeTunnel:
		if err := c.tunnelClient.Connect(ctx); err != nil {
			return fmt.Errorf("connecting tunnel client: %w", err)
		}
		defer c.tunnelClient.Disconnect(context.Background()) //nolint:errcheck // best-effort on shutdown
		c.pumpTunnelEvents(ctx)
	case ModeRouting:
		if err := c.routingClient.Start(ctx); err != nil {
			return fmt.Errorf("starting routing client: %w", err)
		}
		defer c.routingClient.Stop() //nolint:errcheck // best-effort on shutdown
		c.pumpRoutingEvents(ctx)
	}
	return nil
}

// Write encodes value for ga via its configured (or explicitly supplied)
// DPT and sends a GroupValue_Write. dptStr may be empty to fall back to the
// address table.
func (c *Client) Write(ctx context.Context, ga, dptStr string, value any) error {
	dst, tag, err := c.resolve(ga, dptStr)
	if err != nil {
		return err
	}

	switch c.mode {
	case ModeTunnel:
		if err := c.tunnelClient.Write(ctx, dst, tag, value); err != nil {
			return err
		}
	case ModeRouting:
		frame, err := buildWriteFrame(dst, tag, value, c.cfg.Gateway.HopCount)
		if err != nil {
			return err
		}
		if err := c.routingClient.Send(frame); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.writesTx++
	c.mu.Unlock()
	return nil
}

// Read sends a GroupValue_Read for ga. The response, if any, arrives
// asynchronously as an EventIndication.
func (c *Client) Read(ctx context.Context, ga string) error {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnknownGroupAddress, ga, err)
	}

	switch c.mode {
	case ModeTunnel:
		return c.tunnelClient.Read(ctx, dst)
	case ModeRouting:
		frame, err := buildReadFrame(dst, c.cfg.Gateway.HopCount)
		if err != nil {
			return err
		}
		return c.routingClient.Send(frame)
	}
	return nil
}

// resolve parses ga and determines its DPT tag, preferring an explicit
// dptStr over the configured address table.
func (c *Client) resolve(ga, dptStr string) (address.Group, int, error) {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return address.Group{}, 0, fmt.Errorf("%w: %s: %w", ErrUnknownGroupAddress, ga, err)
	}

	if dptStr == "" {
		entry, ok := c.addrIndex[ga]
		if !ok {
			return address.Group{}, 0, fmt.Errorf("%w: %s", ErrUnknownGroupAddress, ga)
		}
		dptStr = entry.DPT
	}

	tag, err := parseDPTTag(dptStr)
	if err != nil {
		return address.Group{}, 0, err
	}
	return dst, tag, nil
}

// buildWriteFrame assembles an L_Data.req cEMI frame for a GroupValue_Write,
// the same construction the tunnel client performs internally, shared here
// so routing mode can build its own frames before calling Send.
func buildWriteFrame(dst address.Group, tag int, value any, hopCount int) (cemi.Frame, error) {
	entry, err := dpt.Lookup(tag)
	if err != nil {
		return cemi.Frame{}, err
	}
	payload, err := entry.Encode(value)
	if err != nil {
		return cemi.Frame{}, err
	}
	tpdu, err := apdu.Build(apdu.TPCI{Kind: apdu.TPCIUnnumberedData}, apdu.GroupValueWrite, entry.Short, payload)
	if err != nil {
		return cemi.Frame{}, err
	}
	return cemi.Frame{
		MessageCode: cemi.LDataReq,
		Ctrl1:       ctrlfield.NewStandard(ctrlfield.PriorityLow),
		Ctrl2:       ctrlfield.Extended{AddressType: ctrlfield.AddrGroup, HopCount: uint8(hopCount)},
		Dst:         dst.ToUint16(),
		TPDU:        tpdu,
	}, nil
}

// buildReadFrame assembles an L_Data.req cEMI frame for a GroupValue_Read.
func buildReadFrame(dst address.Group, hopCount int) (cemi.Frame, error) {
	tpdu, err := apdu.Build(apdu.TPCI{Kind: apdu.TPCIUnnumberedData}, apdu.GroupValueRead, false, nil)
	if err != nil {
		return cemi.Frame{}, err
	}
	return cemi.Frame{
		MessageCode: cemi.LDataReq,
		Ctrl1:       ctrlfield.NewStandard(ctrlfield.PriorityLow),
		Ctrl2:       ctrlfield.Extended{AddressType: ctrlfield.AddrGroup, HopCount: uint8(hopCount)},
		Dst:         dst.ToUint16(),
		TPDU:        tpdu,
	}, nil
}

// Stats returns a snapshot of the gateway's liveness counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	modeName := "tunnel"
	connected := false
	queueDepth := 0
	if c.mode == ModeTunnel {
		connected = c.tunnelClient.State() == tunnel.Connected
	} else {
		modeName = "routing"
		connected = c.connected.Load()
	}

	return Stats{
		Mode:           modeName,
		Connected:      connected,
		IndicationsRx:  c.indicationsRx,
		WritesTx:       c.writesTx,
		AckTimeouts:    c.ackTimeouts,
		BusyEvents:     c.busyEvents,
		QueueOverflows: c.queueOverflows,
		QueueDepth:     queueDepth,
		UptimeSeconds:  int64(time.Since(c.startTime).Seconds()),
	}
}

// emit forwards ev to the gateway's event stream, dropping it (with a log
// line) if the subscriber is too slow to keep up.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("gateway event dropped, subscriber too slow", "kind", ev.Kind.String())
	}
}

// handleIndication fans an inbound frame out to discovery, MQTT state
// publication, and the timeseries sink, best-effort: a decode failure only
// skips the typed sinks, never drops the discovery record.
func (c *Client) handleIndication(frame cemi.Frame) {
	c.mu.Lock()
	c.indicationsRx++
	c.mu.Unlock()

	if c.discovery != nil {
		c.discovery.RecordFrame(frame)
	}

	ga := address.GroupFromUint16(frame.Dst)
	entry, ok := c.addrIndex[ga.String()]
	if !ok {
		return
	}

	tag, err := parseDPTTag(entry.DPT)
	if err != nil {
		return
	}
	dptEntry, err := dpt.Lookup(tag)
	if err != nil {
		return
	}

	_, a, err := apdu.Decode(frame.TPDU, dptEntry.Short)
	if err != nil {
		return
	}
	if a.Command != apdu.GroupValueWrite && a.Command != apdu.GroupValueResponse {
		return
	}

	value, err := dptEntry.Decode(apdu.Payload(frame.TPDU, a))
	if err != nil {
		return
	}

	if c.mqtt != nil {
		c.publishState(ga.String(), value)
	}
	if c.tsdb != nil {
		if f, ok := numericValue(value); ok {
			c.tsdb.WriteValue(ga.String(), entry.DPT, f)
		}
	}
}
