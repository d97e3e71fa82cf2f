// knx-gateway - KNXnet/IP tunnelling and routing gateway.
//
// knx-gateway bridges a KNX installation onto the bus-agnostic
// infrastructure an operator already runs: it resolves configured group
// addresses to DPT codecs, bridges bus telegrams to MQTT, writes values to
// InfluxDB, records passively-observed devices and group addresses into
// SQLite, and exposes a small HTTP control surface for synchronous
// writes/reads and a live event stream.
//
// For architecture details, see: docs/architecture/system-overview.md
// For coding standards, see: docs/development/CODING-STANDARDS.md
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/knx-gateway/internal/api"
	"github.com/nerrad567/knx-gateway/internal/gateway"
	"github.com/nerrad567/knx-gateway/internal/gwconfig"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/database"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/tsdb"
	"github.com/nerrad567/knx-gateway/internal/knx/discovery"

	// Registers the embedded discovery-store schema with the database
	// package via its init side effect.
	_ "github.com/nerrad567/knx-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// defaultConfigPath is used when KNXGW_CONFIG is not set.
const defaultConfigPath = "/etc/knx-gateway/config.yaml"

// healthPublishInterval is how often a connected MQTT bridge re-announces
// gateway health/availability.
const healthPublishInterval = 30 * time.Second

func main() {
	fmt.Printf("knx-gateway %s (%s) built %s\n", version, commit, date)
	fmt.Println("KNXnet/IP tunnelling and routing gateway")
	fmt.Println("---")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path, honouring the
// KNXGW_CONFIG environment variable.
func getConfigPath() string {
	if p := os.Getenv("KNXGW_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// run wires up and runs the gateway, returning when ctx is cancelled or an
// unrecoverable startup error occurs. Separated from main for testability.
func run(ctx context.Context) error {
	cfg, err := gwconfig.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting knx-gateway", "gateway_id", cfg.Gateway.ID, "connection", cfg.Gateway.Connection)

	gw, err := gateway.New(cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("initialising gateway: %w", err)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT != nil {
		mqttClient, err = mqtt.Connect(*cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to mqtt broker: %w", err)
		}
		defer mqttClient.Close() //nolint:errcheck // best effort on shutdown
		gw.SetMQTT(mqttClient)
		if err := gw.BridgeMQTTCommands(mqttClient); err != nil {
			return fmt.Errorf("subscribing mqtt command topics: %w", err)
		}
		logger.Info("mqtt bridge connected", "broker", cfg.MQTT.Broker)
	}

	var tsdbClient *tsdb.Client
	if cfg.Influx != nil {
		tsdbClient, err = tsdb.Connect(ctx, *cfg.Influx)
		if err != nil {
			return fmt.Errorf("connecting to influxdb: %w", err)
		}
		defer tsdbClient.Close() //nolint:errcheck // best effort on shutdown
		gw.SetTSDB(tsdbClient)
		logger.Info("influxdb sink connected", "url", cfg.Influx.URL)
	}

	var db *database.DB
	var recorder *discovery.Recorder
	if cfg.Database != nil {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening discovery database: %w", err)
		}
		defer db.Close() //nolint:errcheck // best effort on shutdown

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("applying discovery database migrations: %w", err)
		}

		recorder = discovery.New(db.DB, logger.Logger)
		if err := recorder.Start(); err != nil {
			return fmt.Errorf("starting discovery recorder: %w", err)
		}
		defer recorder.Stop()
		gw.SetDiscovery(recorder)
		logger.Info("discovery recorder started", "path", cfg.Database.Path)
	}

	gwErrCh := make(chan error, 1)
	go func() {
		gwErrCh <- gw.Run(ctx)
	}()

	// gw.Run dials the bus connection before it starts pumping events; a
	// failure surfaces almost immediately, so give it one connect-timeout
	// window to fail fast, same as the MQTT/InfluxDB/database connects above.
	select {
	case err := <-gwErrCh:
		return fmt.Errorf("running gateway: %w", err)
	case <-time.After(cfg.ConnectTimeoutDuration() + time.Second):
	case <-ctx.Done():
		return nil
	}

	if mqttClient != nil {
		go publishHealthLoop(ctx, gw, mqttClient, logger.Logger)
	}

	apiServer, err := api.New(api.Deps{
		Config:  cfg.HTTP,
		Logger:  logger,
		Gateway: gw,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("initialising api server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	logger.Info("knx-gateway ready", "listen_addr", cfg.HTTP.ListenAddr)

	<-ctx.Done()
	logger.Info("shutdown signal received, cleaning up")

	if err := apiServer.Close(); err != nil {
		logger.Error("closing api server", "error", err)
	}

	var gwErr error
	select {
	case gwErr = <-gwErrCh:
	case <-time.After(5 * time.Second):
		gwErr = errors.New("timed out waiting for gateway to stop")
	}
	if gwErr != nil && !errors.Is(gwErr, context.Canceled) {
		logger.Error("gateway run loop exited with error", "error", gwErr)
	}

	logger.Info("knx-gateway stopped")
	return nil
}

// publishHealthLoop periodically republishes gateway health/availability to
// MQTT until ctx is cancelled.
func publishHealthLoop(ctx context.Context, gw *gateway.Client, client *mqtt.Client, logger *slog.Logger) {
	ticker := time.NewTicker(healthPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := gw.PublishHealth(client); err != nil {
				logger.Error("publishing health status", "error", err)
			}
		}
	}
}
