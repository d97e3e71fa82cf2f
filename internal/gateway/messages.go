package gateway

import "time"

// CommandMessage is accepted on knx/command/<ga> to trigger a bus write,
// generalised from this codebase's bridge-layer CommandMessage (one
// protocol's device/command shape) to this gateway's group-address/DPT
// shape.
type CommandMessage struct {
	ID    string `json:"id,omitempty"`
	GA    string `json:"ga"`
	DPT   string `json:"dpt,omitempty"`
	Value any    `json:"value"`
}

// AckStatus is the outcome of a CommandMessage.
type AckStatus string

// Ack outcomes.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage reports the outcome of a CommandMessage, mirroring the shape
// this codebase's bridge layer already uses for command acknowledgments.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	GA        string    `json:"ga"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage mirrors an observed bus value onto knx/state/<ga>, retained.
type StateMessage struct {
	GA        string    `json:"ga"`
	DPT       string    `json:"dpt"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMessage reports the gateway's own operational status, published to
// knx/health, the same periodic self-report this codebase's bridge layer
// always carries.
type HealthMessage struct {
	GatewayID     string `json:"gateway_id"`
	Mode          string `json:"mode"`
	Connected     bool   `json:"connected"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	IndicationsRx uint64 `json:"indications_rx"`
	WritesTx      uint64 `json:"writes_tx"`
	Timestamp     time.Time `json:"timestamp"`
}
