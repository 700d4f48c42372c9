package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for rinLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Queue      QueueConfig      `yaml:"queue"`
	Scenes     ScenesConfig     `yaml:"scenes"`
	Transports TransportsConfig `yaml:"transports"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains installation-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// CacheConfig contains state cache settings.
type CacheConfig struct {
	// PropertyHistoryDepth is the per-device-property history ring size.
	PropertyHistoryDepth int `yaml:"property_history_depth"`

	// ActivityLogDepth is the ring size for the coarse device activity log.
	ActivityLogDepth int `yaml:"activity_log_depth"`

	// SubscriberBuffer is the per-subscriber change stream channel depth.
	// When a subscriber falls behind, the oldest event is dropped.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// QueueConfig contains command queue settings.
type QueueConfig struct {
	// OfflineLimit bounds the offline buffer; oldest commands are dropped
	// when the limit is exceeded. Zero means unbounded.
	OfflineLimit int `yaml:"offline_limit"`

	// DefaultRetries is the retry budget for commands that do not set one.
	DefaultRetries int `yaml:"default_retries"`

	// DefaultTimeout is the per-command dispatch timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ScenesConfig contains scene engine settings.
type ScenesConfig struct {
	// Debounce is the quiet window applied to push-driven trigger evaluation
	// so rapid property churn does not cause redundant evaluation storms.
	Debounce time.Duration `yaml:"debounce"`

	// ExecutionTimeout is the hard limit for a single scene execution.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
}

// TransportsConfig contains per-backend transport settings.
type TransportsConfig struct {
	LAN     LANConfig     `yaml:"lan"`
	Zigbee  ZigbeeConfig  `yaml:"zigbee"`
	CloudWS CloudWSConfig `yaml:"cloudws"`
	BLE     BLEConfig     `yaml:"ble"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// LANConfig contains local network transport settings.
type LANConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	DiscoveryAddr string        `yaml:"discovery_addr"`
	// DiscoveryTimeout bounds a broadcast discovery sweep.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// ZigbeeConfig contains mesh radio transport settings.
type ZigbeeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel int    `yaml:"channel"`
	PanID   string `yaml:"pan_id"`
}

// CloudWSConfig contains cloud websocket relay settings.
type CloudWSConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// BLEConfig contains short-range radio transport settings.
type BLEConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTConfig contains MQTT broker transport settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket push settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains the optional property history sink settings.
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
// Environment variables follow the pattern: RINLINK_SECTION_KEY
// For example: RINLINK_DATABASE_PATH, RINLINK_MQTT_HOST
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

// Default returns the built-in configuration without reading any file.
// Useful for tests and for running with an in-memory database.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home-001",
			Name:     "rinLink",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/rinlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Cache: CacheConfig{
			PropertyHistoryDepth: 1000,
			ActivityLogDepth:     50,
			SubscriberBuffer:     256,
		},
		Queue: QueueConfig{
			OfflineLimit:   1000,
			DefaultRetries: 3,
			DefaultTimeout: 5 * time.Second,
		},
		Scenes: ScenesConfig{
			Debounce:         200 * time.Millisecond,
			ExecutionTimeout: 60 * time.Second,
		},
		Transports: TransportsConfig{
			LAN: LANConfig{
				Enabled:          true,
				ListenAddr:       "0.0.0.0:54320",
				DiscoveryAddr:    "255.255.255.255:54321",
				DiscoveryTimeout: 3 * time.Second,
			},
			Zigbee: ZigbeeConfig{
				Enabled: true,
				Channel: 15,
			},
			CloudWS: CloudWSConfig{
				Enabled:      false,
				PingInterval: 30 * time.Second,
			},
			BLE: BLEConfig{Enabled: true},
			MQTT: MQTTConfig{
				Enabled: false,
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "rinlink-core",
				},
				QoS: 1,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RINLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RINLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RINLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RINLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("RINLINK_MQTT_HOST"); v != "" {
		cfg.Transports.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RINLINK_MQTT_USERNAME"); v != "" {
		cfg.Transports.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RINLINK_MQTT_PASSWORD"); v != "" {
		cfg.Transports.MQTT.Auth.Password = v
	}
	if v := os.Getenv("RINLINK_CLOUDWS_URL"); v != "" {
		cfg.Transports.CloudWS.URL = v
	}
	if v := os.Getenv("RINLINK_CLOUDWS_TOKEN"); v != "" {
		cfg.Transports.CloudWS.Token = v
	}
	if v := os.Getenv("RINLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("RINLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Cache.PropertyHistoryDepth < 1 {
		errs = append(errs, "cache.property_history_depth must be at least 1")
	}
	if c.Cache.SubscriberBuffer < 1 {
		errs = append(errs, "cache.subscriber_buffer must be at least 1")
	}
	if c.Queue.OfflineLimit < 0 {
		errs = append(errs, "queue.offline_limit must not be negative")
	}
	if c.Queue.DefaultTimeout <= 0 {
		errs = append(errs, "queue.default_timeout must be positive")
	}
	if c.Transports.MQTT.QoS < 0 || c.Transports.MQTT.QoS > 2 {
		errs = append(errs, "transports.mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Transports.CloudWS.Enabled && c.Transports.CloudWS.URL == "" {
		errs = append(errs, "transports.cloudws.url is required when cloudws is enabled")
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
