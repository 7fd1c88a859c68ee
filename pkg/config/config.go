// Package config loads the server configuration file.
//
// Loading order:
//  1. defaults
//  2. YAML file values
//  3. PLUGD_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLUGD_"

// ErrInvalid reports a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"     envPrefix:"SERVER_"`
	Devices    DevicesConfig    `yaml:"devices"    envPrefix:"DEVICES_"`
	Transports TransportsConfig `yaml:"transports" envPrefix:"TRANSPORTS_"`
	MQTT       MQTTConfig       `yaml:"mqtt"       envPrefix:"MQTT_"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"   envPrefix:"INFLUXDB_"`
	Logging    LoggingConfig    `yaml:"logging"    envPrefix:"LOG_"`
}

// ServerConfig holds client protocol settings. Empty Name and zero
// MaxPingTime defer to the active profile. Database holds the SQLite path;
// empty uses the per-user default.
type ServerConfig struct {
	Name                string        `yaml:"name"                  env:"NAME"`
	MaxPingTime         time.Duration `yaml:"max_ping_time"         env:"MAX_PING_TIME"`
	LeaveDevicesRunning bool          `yaml:"leave_devices_running" env:"LEAVE_DEVICES_RUNNING"`
	Database            string        `yaml:"database"              env:"DATABASE"`
}

// DevicesConfig points at the device configuration documents. An empty
// BaseConfig uses the embedded document; an empty UserConfig defers to the
// active profile. AllowRaw exposes raw endpoint access to clients.
type DevicesConfig struct {
	BaseConfig   string        `yaml:"base_config"   env:"BASE_CONFIG"`
	UserConfig   string        `yaml:"user_config"   env:"USER_CONFIG"`
	AllowRaw     bool          `yaml:"allow_raw"     env:"ALLOW_RAW"`
	PhaseTimeout time.Duration `yaml:"phase_timeout" env:"PHASE_TIMEOUT"`
}

// TransportsConfig toggles the communication managers.
type TransportsConfig struct {
	Serial SerialConfig `yaml:"serial" envPrefix:"SERIAL_"`
	Bluez  BluezConfig  `yaml:"bluez"  envPrefix:"BLUEZ_"`
	Bridge BridgeConfig `yaml:"bridge" envPrefix:"BRIDGE_"`
}

// SerialConfig enables serial port discovery. ReadTimeout bounds a read
// that waits for a reply frame.
type SerialConfig struct {
	Enabled     bool          `yaml:"enabled"      env:"ENABLED"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
}

// BluezConfig enables Bluetooth LE over BlueZ. Adapter is the D-Bus object
// name, for example hci0.
type BluezConfig struct {
	Enabled      bool          `yaml:"enabled"       env:"ENABLED"`
	Adapter      string        `yaml:"adapter"       env:"ADAPTER"`
	ScanDuration time.Duration `yaml:"scan_duration" env:"SCAN_DURATION"`
}

// BridgeConfig enables the websocket device bridge at /ws/device.
type BridgeConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// MQTTConfig configures the MQTT telemetry sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"      env:"ENABLED"`
	Broker      string `yaml:"broker"       env:"BROKER"`
	ClientID    string `yaml:"client_id"    env:"CLIENT_ID"`
	Username    string `yaml:"username"     env:"USERNAME"`
	Password    string `yaml:"password"     env:"PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS         byte   `yaml:"qos"          env:"QOS"`
}

// InfluxDBConfig configures the InfluxDB telemetry sink.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	URL     string `yaml:"url"     env:"URL"`
	Token   string `yaml:"token"   env:"TOKEN"`
	Org     string `yaml:"org"     env:"ORG"`
	Bucket  string `yaml:"bucket"  env:"BUCKET"`
}

// LoggingConfig sets the zerolog level and output format.
type LoggingConfig struct {
	Level   string `yaml:"level"   env:"LEVEL"`
	Console bool   `yaml:"console" env:"CONSOLE"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Devices: DevicesConfig{
			PhaseTimeout: 5 * time.Second,
		},
		Transports: TransportsConfig{
			Serial: SerialConfig{ReadTimeout: time.Second},
			Bluez:  BluezConfig{Adapter: "hci0", ScanDuration: 10 * time.Second},
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "plugd",
			TopicPrefix: "plugd",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Bucket: "plugd",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.MaxPingTime < 0 {
		return fmt.Errorf("%w: server.max_ping_time is negative", ErrInvalid)
	}
	if c.Devices.PhaseTimeout <= 0 {
		return fmt.Errorf("%w: devices.phase_timeout must be positive", ErrInvalid)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalid)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "") {
		return fmt.Errorf("%w: influxdb url, org and bucket are required when influxdb is enabled", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalid, err)
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
