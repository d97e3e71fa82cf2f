package api

import (
	"testing"

	"github.com/nerrad567/knx-gateway/internal/gateway"
	"github.com/nerrad567/knx-gateway/internal/gwconfig"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/logging"
)

func testServer(t *testing.T, bearerSecret string) *Server {
	t.Helper()

	cfg := &gwconfig.Config{
		Gateway: gwconfig.GatewayConfig{
			ID:                "test-gw",
			Connection:        "tunnel://127.0.0.1:3671",
			HopCount:          6,
			ConnectTimeout:    5,
			HeartbeatInterval: 60,
			HeartbeatTimeout:  10,
			AckTimeout:        1,
		},
		Addresses: []gwconfig.AddressConfig{
			{GA: "1/2/3", DPT: "9.001", Name: "temp"},
		},
	}

	gw, err := gateway.New(cfg, nil)
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}

	logger := logging.New(gwconfig.LoggingConfig{Level: "error", Format: "text"}, "test")

	s, err := New(Deps{
		Config:  gwconfig.HTTPConfig{ListenAddr: "127.0.0.1:0", BearerToken: bearerSecret},
		Logger:  logger,
		Gateway: gw,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.hub = newEventHub(logger)
	return s
}
