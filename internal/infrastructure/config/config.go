package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FAHBRIDGE_"

// Config is the root configuration structure for the free@home bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	SysAP    SysAPConfig    `yaml:"sysap"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// SysAPConfig contains the System Access Point connection settings.
type SysAPConfig struct {
	Host         string               `yaml:"host"`
	Port         int                  `yaml:"port"`
	Username     string               `yaml:"username"`
	Password     string               `yaml:"password"`
	UseRoomNames bool                 `yaml:"use_room_names"`
	Reconnect    SysAPReconnectConfig `yaml:"reconnect"`
	TLS          SysAPTLSConfig       `yaml:"tls"`

	// Timeouts and intervals in seconds.
	RPCTimeout      int `yaml:"rpc_timeout"`
	ConnectTimeout  int `yaml:"connect_timeout"`
	SettingsTimeout int `yaml:"settings_timeout"`
	PingInterval    int `yaml:"ping_interval"`
}

// SysAPReconnectConfig controls the session supervisor.
type SysAPReconnectConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"`
}

// SysAPTLSConfig enables STARTTLS on the XMPP stream.
type SysAPTLSConfig struct {
	Enabled            bool `yaml:"enabled"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"`
	TopicPrefix    string `yaml:"topic_prefix"`
}

// MonitorConfig contains defaults for the dump and monitor commands.
type MonitorConfig struct {
	OutputDir       string `yaml:"output_dir"`
	DefaultDuration int    `yaml:"default_duration"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: FAHBRIDGE_SECTION_KEY
// For example: FAHBRIDGE_SYSAP_PASSWORD, FAHBRIDGE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is the normal case in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		SysAP: SysAPConfig{
			Port:     5222,
			Username: "installer",
			Reconnect: SysAPReconnectConfig{
				Enabled:  true,
				Interval: 2,
			},
			RPCTimeout:      30,
			ConnectTimeout:  30,
			SettingsTimeout: 10,
			PingInterval:    60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fahbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bridge: BridgeConfig{
			ID:             "fah",
			HealthInterval: 30,
			TopicPrefix:    "graylogic",
		},
		Monitor: MonitorConfig{
			OutputDir:       ".",
			DefaultDuration: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FAHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// SysAP
	if v := os.Getenv(EnvPrefix + "SYSAP_HOST"); v != "" {
		cfg.SysAP.Host = v
	}
	if v := os.Getenv(EnvPrefix + "SYSAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SysAP.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "SYSAP_USERNAME"); v != "" {
		cfg.SysAP.Username = v
	}
	if v := os.Getenv(EnvPrefix + "SYSAP_PASSWORD"); v != "" {
		cfg.SysAP.Password = v
	}

	// MQTT
	if v := os.Getenv(EnvPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv(EnvPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	// SysAP validation
	if c.SysAP.Host == "" {
		errs = append(errs, fmt.Errorf("sysap.host is required (set %sSYSAP_HOST)", EnvPrefix))
	}
	if c.SysAP.Username == "" {
		errs = append(errs, errors.New("sysap.username is required"))
	}
	if c.SysAP.Password == "" {
		errs = append(errs, fmt.Errorf("sysap.password is required (set %sSYSAP_PASSWORD)", EnvPrefix))
	}
	if c.SysAP.Port < 1 || c.SysAP.Port > 65535 {
		errs = append(errs, errors.New("sysap.port must be between 1 and 65535"))
	}
	if c.SysAP.Reconnect.Interval < 0 {
		errs = append(errs, errors.New("sysap.reconnect.interval must not be negative"))
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, errors.New("mqtt.broker.port must be between 1 and 65535"))
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, errors.New("influxdb.url is required when influxdb is enabled"))
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, errors.New("influxdb.bucket is required when influxdb is enabled"))
		}
	}

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, errors.New("bridge.id is required"))
	}
	if c.Bridge.TopicPrefix == "" {
		errs = append(errs, errors.New("bridge.topic_prefix is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}

	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetRPCTimeout returns the per-call RPC timeout.
func (c *Config) GetRPCTimeout() time.Duration { return seconds(c.SysAP.RPCTimeout) }

// GetConnectTimeout returns the stream connect and login timeout.
func (c *Config) GetConnectTimeout() time.Duration { return seconds(c.SysAP.ConnectTimeout) }

// GetSettingsTimeout returns the settings.json fetch timeout.
func (c *Config) GetSettingsTimeout() time.Duration { return seconds(c.SysAP.SettingsTimeout) }

// GetPingInterval returns the keepalive interval.
func (c *Config) GetPingInterval() time.Duration { return seconds(c.SysAP.PingInterval) }

// GetReconnectInterval returns the delay between reconnect attempts.
func (c *Config) GetReconnectInterval() time.Duration { return seconds(c.SysAP.Reconnect.Interval) }

// GetHealthInterval returns the bridge health reporting interval.
func (c *Config) GetHealthInterval() time.Duration { return seconds(c.Bridge.HealthInterval) }

// GetMonitorDuration returns the default monitor recording time.
func (c *Config) GetMonitorDuration() time.Duration { return seconds(c.Monitor.DefaultDuration) }
