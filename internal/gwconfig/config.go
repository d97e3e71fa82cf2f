// Package gwconfig loads and validates the gateway daemon's configuration:
// YAML on disk, with environment variable overrides applied on top,
// matching the loading order this codebase family always uses.
package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knx-gateway/internal/knx/address"
)

// DefaultConnection is the default KNXnet/IP target when none is configured.
const DefaultConnection = "tunnel://localhost:3671"

// Config is the root configuration for the KNX gateway daemon.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Addresses []AddressConfig `yaml:"addresses"`
	MQTT      *MQTTConfig     `yaml:"mqtt"`
	Influx    *InfluxConfig   `yaml:"influx"`
	Database  *DatabaseConfig `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig identifies this gateway instance and its KNXnet/IP target.
type GatewayConfig struct {
	// ID uniquely identifies this gateway instance. Used in MQTT client id
	// and health reporting.
	ID string `yaml:"id"`

	// Connection selects the transport and target: "tunnel://host:port" for
	// a unicast tunneling connection, or "routing://address:port" for
	// multicast routing.
	Connection string `yaml:"connection"`

	// LocalAddr is the local bind address ("" lets the OS choose).
	LocalAddr string `yaml:"local_addr"`

	// HopCount is the default hop count for outbound L_Data.req frames.
	HopCount int `yaml:"hop_count"`

	// ConnectTimeout is the CONNECT_RESPONSE wait (seconds). Default: 5.
	ConnectTimeout int `yaml:"connect_timeout"`

	// HeartbeatInterval is the CONNECTIONSTATE_REQUEST period (seconds).
	// Default: 60.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// HeartbeatTimeout is the CONNECTIONSTATE_RESPONSE wait (seconds).
	// Default: 10.
	HeartbeatTimeout int `yaml:"heartbeat_timeout"`

	// AckTimeout is the TUNNELLING_ACK wait (seconds, fractional allowed
	// via e.g. 0.5). Default: 1.
	AckTimeout float64 `yaml:"ack_timeout"`
}

// AddressConfig binds one group address to a DPT tag, the same shape this
// codebase uses to map addresses to devices elsewhere, so the gateway can
// encode/decode without per-call type plumbing and so passively discovered
// addresses can be cross-referenced against a known table.
type AddressConfig struct {
	// GA is the KNX group address in 2- or 3-level form (e.g. "1/2/3").
	GA string `yaml:"ga"`

	// DPT is the KNX datapoint type, "major.minor" (e.g. "1.001", "9.001").
	DPT string `yaml:"dpt"`

	// Name is a human-readable label for logging and the discovery table.
	Name string `yaml:"name"`

	// Flags indicate how this address is used: read, write, transmit.
	Flags []string `yaml:"flags"`
}

// HasFlag reports whether flag is present on this address.
func (a AddressConfig) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// MQTTConfig configures the optional northbound MQTT bridge.
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       int    `yaml:"qos"`
	KeepAlive int    `yaml:"keep_alive"`
}

// String renders the config with the password redacted, for safe logging.
func (m MQTTConfig) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTConfig{Broker:%q, ClientID:%q, Username:%q, Password:%s, QoS:%d, KeepAlive:%d}",
		m.Broker, m.ClientID, m.Username, password, m.QoS, m.KeepAlive)
}

// MarshalJSON redacts the password so it never leaks into logged or
// API-returned JSON.
func (m MQTTConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTConfig
	safe := redacted(m)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// InfluxConfig configures the optional timeseries telemetry sink. Its
// presence (a non-nil *InfluxConfig on Config) is what enables the sink;
// there is no separate enabled flag.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
	Token  string `yaml:"token"`

	// BatchSize is the number of points buffered before an automatic flush.
	// Default: 100.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time (seconds) points are buffered before
	// an automatic flush. Default: 10.
	FlushInterval int `yaml:"flush_interval"`
}

// String renders the config with the token redacted, for safe logging.
func (i InfluxConfig) String() string {
	token := ""
	if i.Token != "" {
		token = "[REDACTED]"
	}
	return fmt.Sprintf("InfluxConfig{URL:%q, Org:%q, Bucket:%q, Token:%s}", i.URL, i.Org, i.Bucket, token)
}

// MarshalJSON redacts the token so it never leaks into logged or
// API-returned JSON.
func (i InfluxConfig) MarshalJSON() ([]byte, error) {
	type redacted InfluxConfig
	safe := redacted(i)
	if safe.Token != "" {
		safe.Token = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// DatabaseConfig configures the optional SQLite-backed passive discovery
// store. Its presence (a non-nil *DatabaseConfig on Config) is what enables
// discovery recording; there is no separate enabled flag.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HTTPConfig configures the control API listener.
type HTTPConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	BearerToken string `yaml:"bearer_token"`
}

// MarshalJSON redacts the bearer token.
func (h HTTPConfig) MarshalJSON() ([]byte, error) {
	type redacted HTTPConfig
	safe := redacted(h)
	if safe.BearerToken != "" {
		safe.BearerToken = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json or text.
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file, applies environment variable
// overrides, and validates the result.
//
// Environment variables follow the pattern KNXGW_SECTION_KEY, e.g.
// KNXGW_GATEWAY_CONNECTION, KNXGW_MQTT_BROKER.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:                "knx-gateway-01",
			Connection:        DefaultConnection,
			HopCount:          6,
			ConnectTimeout:    5,
			HeartbeatInterval: 60,
			HeartbeatTimeout:  10,
			AckTimeout:        1,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Addresses: []AddressConfig{},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNXGW_GATEWAY_ID"); v != "" {
		cfg.Gateway.ID = v
	}
	if v := os.Getenv("KNXGW_GATEWAY_CONNECTION"); v != "" {
		cfg.Gateway.Connection = v
	}
	if v := os.Getenv("KNXGW_HTTP_BEARER_TOKEN"); v != "" {
		cfg.HTTP.BearerToken = v
	}
	if v := os.Getenv("KNXGW_MQTT_BROKER"); v != "" {
		if cfg.MQTT == nil {
			cfg.MQTT = &MQTTConfig{}
		}
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("KNXGW_MQTT_USERNAME"); v != "" && cfg.MQTT != nil {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("KNXGW_MQTT_PASSWORD"); v != "" && cfg.MQTT != nil {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("KNXGW_INFLUX_TOKEN"); v != "" && cfg.Influx != nil {
		cfg.Influx.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateAddresses()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateInflux()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateHTTP()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateGateway() []string {
	var errs []string
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if !strings.HasPrefix(c.Gateway.Connection, "tunnel://") && !strings.HasPrefix(c.Gateway.Connection, "routing://") {
		errs = append(errs, fmt.Sprintf("gateway.connection %q must start with tunnel:// or routing://", c.Gateway.Connection))
	}
	if c.Gateway.HopCount < 0 || c.Gateway.HopCount > 7 {
		errs = append(errs, "gateway.hop_count must be 0-7")
	}
	if c.Gateway.ConnectTimeout < 1 {
		errs = append(errs, "gateway.connect_timeout must be at least 1 second")
	}
	return errs
}

func (c *Config) validateAddresses() []string {
	var errs []string
	seen := make(map[string]bool)
	for i, a := range c.Addresses {
		if a.GA == "" {
			errs = append(errs, fmt.Sprintf("addresses[%d].ga is required", i))
		} else if _, err := address.ParseGroup(a.GA); err != nil {
			errs = append(errs, fmt.Sprintf("addresses[%d].ga %q is invalid: %v", i, a.GA, err))
		} else if seen[a.GA] {
			errs = append(errs, fmt.Sprintf("addresses[%d].ga %q is duplicate", i, a.GA))
		}
		seen[a.GA] = true

		if a.DPT == "" {
			errs = append(errs, fmt.Sprintf("addresses[%d].dpt is required", i))
		}
		for _, flag := range a.Flags {
			if flag != "read" && flag != "write" && flag != "transmit" {
				errs = append(errs, fmt.Sprintf("addresses[%d].flags contains invalid value %q", i, flag))
			}
		}
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	if c.MQTT == nil {
		return nil
	}
	var errs []string
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is configured")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

func (c *Config) validateInflux() []string {
	if c.Influx == nil {
		return nil
	}
	var errs []string
	if c.Influx.URL == "" {
		errs = append(errs, "influx.url is required when influx is configured")
	}
	if c.Influx.Bucket == "" {
		errs = append(errs, "influx.bucket is required when influx is configured")
	}
	return errs
}

func (c *Config) validateDatabase() []string {
	if c.Database == nil {
		return nil
	}
	var errs []string
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is configured")
	}
	return errs
}

func (c *Config) validateHTTP() []string {
	var errs []string
	if c.HTTP.ListenAddr == "" {
		errs = append(errs, "http.listen_addr is required")
	}
	return errs
}

func (c *Config) validateLogging() []string {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json or text)", c.Logging.Format))
	}
	return errs
}

// ConnectTimeoutDuration returns Gateway.ConnectTimeout as a Duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.Gateway.ConnectTimeout) * time.Second
}

// HeartbeatIntervalDuration returns Gateway.HeartbeatInterval as a Duration.
func (c *Config) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.Gateway.HeartbeatInterval) * time.Second
}

// HeartbeatTimeoutDuration returns Gateway.HeartbeatTimeout as a Duration.
func (c *Config) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(c.Gateway.HeartbeatTimeout) * time.Second
}

// AckTimeoutDuration returns Gateway.AckTimeout as a Duration.
func (c *Config) AckTimeoutDuration() time.Duration {
	return time.Duration(c.Gateway.AckTimeout * float64(time.Second))
}

// GetMQTTClientID returns the MQTT client id, defaulting to the gateway id
// with a "-mqtt" suffix.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT != nil && c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return c.Gateway.ID + "-mqtt"
}

// BuildAddressIndex creates a GA-string-keyed lookup map for the configured
// addresses, used by the gateway to resolve an incoming indication's
// destination to its DPT tag and display name.
func (c *Config) BuildAddressIndex() map[string]AddressConfig {
	index := make(map[string]AddressConfig, len(c.Addresses))
	for _, a := range c.Addresses {
		index[a.GA] = a
	}
	return index
}
