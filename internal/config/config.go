package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/lightmeter/internal/light"
)

// Driver names accepted in the lights section.
const (
	DriverHue  = "hue"
	DriverMQTT = "mqtt"
	DriverSim  = "sim"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig      `yaml:"log"`
	Database        DatabaseConfig `yaml:"database"`
	Pricing         PricingConfig  `yaml:"pricing"`
	AutoOff         AutoOffConfig  `yaml:"autooff"`
	Hue             HueConfig      `yaml:"hue"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	InfluxDB        InfluxDBConfig `yaml:"influxdb"`
	HTTP            HTTPConfig     `yaml:"http"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	Lights          []LightConfig  `yaml:"lights"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Structured output instead of the console writer
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PricingConfig contains the tariff and the persisted key prefix
type PricingConfig struct {
	PricePerKwh float64 `yaml:"price_per_kwh"`
	Currency    string  `yaml:"currency"`
	Prefix      string  `yaml:"prefix"` // Prefix for persisted value keys (default: LC_)
}

// AutoOffConfig contains the periodic check settings
type AutoOffConfig struct {
	CheckInterval Duration `yaml:"check_interval"` // How often overdue lights are swept (default: 30s)
	Grace         Duration `yaml:"grace"`          // Tolerance past the deadline (default: 10s)
	RateLimitRPS  float64  `yaml:"rate_limit_rps"` // Forced-off commands per second (default: 5)
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge       string   `yaml:"bridge"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`       // HTTP timeout for Hue API requests
	PollInterval Duration `yaml:"poll_interval"` // How often Hue lights are polled for changes (default: 5s)
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
}

// MQTTConfig contains broker settings for MQTT-driven plugs
type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`
	Broker  struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		ClientID string `yaml:"client_id"`
		TLS      bool   `yaml:"tls"`
	} `yaml:"broker"`
	Auth struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
	QoS       int `yaml:"qos"`
	Reconnect struct {
		InitialDelay int `yaml:"initial_delay"` // seconds
		MaxDelay     int `yaml:"max_delay"`     // seconds
	} `yaml:"reconnect"`
}

// InfluxDBConfig contains settings for archiving persisted values
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// HTTPConfig contains API server settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Per-worker queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// LightConfig describes one tracked light
type LightConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Watts        float64  `yaml:"watts"`
	Class        string   `yaml:"class"`
	Driver       string   `yaml:"driver"`
	AutoOff      Duration `yaml:"auto_off"`
	Manufacturer string   `yaml:"manufacturer"`
	Model        string   `yaml:"model"`

	HueID     string `yaml:"hue_id"`     // Hue bridge light id (driver: hue)
	MQTTTopic string `yaml:"mqtt_topic"` // Device topic (driver: mqtt)
}

// Profile converts the entry to a light profile.
func (l LightConfig) Profile() light.Profile {
	class, _ := light.ParseClass(l.Class)
	name := l.Name
	if name == "" {
		name = l.ID
	}
	return light.Profile{
		ID:           l.ID,
		Name:         name,
		Watts:        l.Watts,
		Class:        class,
		Manufacturer: l.Manufacturer,
		Model:        l.Model,
	}
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lightmeter.sqlite"
	}

	// Pricing defaults
	if cfg.Pricing.Prefix == "" {
		cfg.Pricing.Prefix = "LC_"
	}

	// Auto-off defaults
	if cfg.AutoOff.CheckInterval == 0 {
		cfg.AutoOff.CheckInterval = Duration(30 * time.Second)
	}
	if cfg.AutoOff.Grace == 0 {
		cfg.AutoOff.Grace = Duration(10 * time.Second)
	}
	if cfg.AutoOff.RateLimitRPS == 0 {
		cfg.AutoOff.RateLimitRPS = 5.0
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(30 * time.Second)
	}
	if cfg.Hue.PollInterval == 0 {
		cfg.Hue.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Hue.RateLimitRPS == 0 {
		cfg.Hue.RateLimitRPS = 10.0 // 10 requests per second
	}

	// MQTT defaults
	if cfg.MQTT.Broker.Port == 0 {
		cfg.MQTT.Broker.Port = 1883
	}
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "lightmeter"
	}
	if cfg.MQTT.Reconnect.InitialDelay == 0 {
		cfg.MQTT.Reconnect.InitialDelay = 1
	}
	if cfg.MQTT.Reconnect.MaxDelay == 0 {
		cfg.MQTT.Reconnect.MaxDelay = 60
	}

	// InfluxDB defaults
	if cfg.InfluxDB.Measurement == "" {
		cfg.InfluxDB.Measurement = "lightmeter"
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	for i := range cfg.Lights {
		if cfg.Lights[i].Driver == "" {
			cfg.Lights[i].Driver = DriverSim
		}
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Pricing.PricePerKwh < 0 {
		return fmt.Errorf("pricing.price_per_kwh must not be negative")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	seen := make(map[string]bool, len(cfg.Lights))
	for i, l := range cfg.Lights {
		if l.ID == "" {
			return fmt.Errorf("lights[%d]: id is required", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("lights[%d]: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = true

		if l.Watts < 0 {
			return fmt.Errorf("light %s: watts must not be negative", l.ID)
		}
		if l.AutoOff < 0 {
			return fmt.Errorf("light %s: auto_off must not be negative", l.ID)
		}
		if _, err := light.ParseClass(l.Class); err != nil {
			return fmt.Errorf("light %s: %w", l.ID, err)
		}

		switch l.Driver {
		case DriverHue:
			if l.HueID == "" {
				return fmt.Errorf("light %s: hue_id is required for the hue driver", l.ID)
			}
			if cfg.Hue.Bridge == "" {
				return fmt.Errorf("light %s: hue.bridge is not configured", l.ID)
			}
		case DriverMQTT:
			if l.MQTTTopic == "" {
				return fmt.Errorf("light %s: mqtt_topic is required for the mqtt driver", l.ID)
			}
			if !cfg.MQTT.Enabled {
				return fmt.Errorf("light %s: mqtt is not enabled", l.ID)
			}
		case DriverSim:
		default:
			return fmt.Errorf("light %s: unknown driver %q", l.ID, l.Driver)
		}
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
