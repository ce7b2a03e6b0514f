package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the relay hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this hub instance.
type SiteConfig struct {
	Name string `yaml:"name"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket endpoint settings.
type WebSocketConfig struct {
	DevicePath     string `yaml:"device_path"`
	DashboardPath  string `yaml:"dashboard_path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	SendBuffer     int    `yaml:"send_buffer"`
	WriteTimeout   int    `yaml:"write_timeout"`
}

// LivenessConfig controls the keepalive probe sent to connected devices.
type LivenessConfig struct {
	// Interval between probe rounds, in seconds.
	Interval int `yaml:"interval"`

	// PongTimeout is added to Interval to form the read deadline of a device
	// connection. A connection that stays silent past it is closed by the
	// transport, which is what marks the device offline.
	PongTimeout int `yaml:"pong_timeout"`

	// OnlineWindow is how recently a device must have been seen for the
	// status endpoint to report it online, in seconds.
	OnlineWindow int `yaml:"online_window"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the state-change audit log.
type HistoryConfig struct {
	Enabled        bool `yaml:"enabled"`
	RetentionHours int  `yaml:"retention_hours"`
	PruneInterval  int  `yaml:"prune_interval"` // minutes
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYHUB_SECTION_KEY
// For example: RELAYHUB_API_PORT, RELAYHUB_MQTT_HOST. The bare PORT variable
// set by most hosting platforms overrides api.port as well.
//
// When optional is true a missing file is not an error and defaults are used.
func Load(path string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
		// Run on defaults plus environment.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults without reading a file or the
// environment. Tests and early startup use it.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Name: "relayhub",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3001,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			DevicePath:     "/ws/device",
			DashboardPath:  "/ws/dashboard",
			MaxMessageSize: 64 * 1024,
			SendBuffer:     64,
			WriteTimeout:   10,
		},
		Liveness: LivenessConfig{
			Interval:     10,
			PongTimeout:  20,
			OnlineWindow: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/relayhub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:        false,
			RetentionHours: 24 * 7,
			PruneInterval:  60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relayhub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "relayhub",
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// API
	if v := os.Getenv("RELAYHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	for _, key := range []string{"PORT", "RELAYHUB_API_PORT"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		cfg.API.Port = port
	}

	// Database / history
	if v := os.Getenv("RELAYHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RELAYHUB_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = parseBool(v)
	}

	// MQTT
	if v := os.Getenv("RELAYHUB_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("RELAYHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("RELAYHUB_INFLUXDB_ENABLED"); v != "" {
		cfg.InfluxDB.Enabled = parseBool(v)
	}
	if v := os.Getenv("RELAYHUB_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("RELAYHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("RELAYHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAYHUB_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	return nil
}

// parseBool accepts the usual truthy spellings; anything else is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// API validation. Port 0 lets the kernel pick one (tests).
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// WebSocket validation
	if !strings.HasPrefix(c.WebSocket.DevicePath, "/") {
		errs = append(errs, "websocket.device_path must start with /")
	}
	if !strings.HasPrefix(c.WebSocket.DashboardPath, "/") {
		errs = append(errs, "websocket.dashboard_path must start with /")
	}
	if c.WebSocket.DevicePath == c.WebSocket.DashboardPath {
		errs = append(errs, "websocket.device_path and websocket.dashboard_path must differ")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, "websocket.send_buffer must be positive")
	}
	if c.WebSocket.WriteTimeout < 0 {
		errs = append(errs, "websocket.write_timeout must not be negative")
	}

	// Liveness validation
	if c.Liveness.Interval <= 0 {
		errs = append(errs, "liveness.interval must be positive")
	}
	if c.Liveness.PongTimeout <= 0 {
		errs = append(errs, "liveness.pong_timeout must be positive")
	}
	if c.Liveness.OnlineWindow <= 0 {
		errs = append(errs, "liveness.online_window must be positive")
	}

	// History needs somewhere to write
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	// MQTT validation
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb requires url, org and bucket when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ProbeInterval returns the liveness probe period.
func (l LivenessConfig) ProbeInterval() time.Duration {
	return time.Duration(l.Interval) * time.Second
}

// ReadDeadline returns how long a device connection may stay silent.
func (l LivenessConfig) ReadDeadline() time.Duration {
	return time.Duration(l.Interval+l.PongTimeout) * time.Second
}

// Window returns the online window used by the status endpoint.
func (l LivenessConfig) Window() time.Duration {
	return time.Duration(l.OnlineWindow) * time.Second
}
