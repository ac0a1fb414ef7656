package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigName = "adis"
	EnvPrefix         = "ADIS"
	EnvConfigPath     = "ADIS_CONFIG"
)

const DefaultConfigSearchPath0 = "./"
const DefaultConfigSearchPath1 = "/etc/adis"

// Config holds all application configuration values.
type Config struct {
	// IMU
	Device             string  `mapstructure:"device" yaml:"device"`
	FrameID            string  `mapstructure:"frame_id" yaml:"frame_id"`
	BurstMode          bool    `mapstructure:"burst_mode" yaml:"burst_mode"`
	Rate               float64 `mapstructure:"rate" yaml:"rate"` // Hz
	PublishTemperature bool    `mapstructure:"publish_temperature" yaml:"publish_temperature"`
	BiasEstimationTime uint16  `mapstructure:"bias_estimation_time" yaml:"bias_estimation_time"` // NULL_CNFG
	SPISpeedHz         int64   `mapstructure:"spi_speed_hz" yaml:"spi_speed_hz"`

	// Payload encoding on the bus: "json" or "msgpack"
	PayloadEncoding string `mapstructure:"payload_encoding" yaml:"payload_encoding"`

	MQTT    MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	Topics  TopicsConfig  `mapstructure:"topics" yaml:"topics"`
	Web     WebConfig     `mapstructure:"web" yaml:"web"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`

	Debug bool `mapstructure:"debug" yaml:"debug"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

type TopicsConfig struct {
	IMU          string `mapstructure:"imu" yaml:"imu"`
	Temperature  string `mapstructure:"temperature" yaml:"temperature"`
	BiasRequest  string `mapstructure:"bias_request" yaml:"bias_request"`
	BiasResponse string `mapstructure:"bias_response" yaml:"bias_response"`
}

type WebConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type DisplayConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	I2CBus           string `mapstructure:"i2c_bus" yaml:"i2c_bus"`
	I2CAddr          uint16 `mapstructure:"i2c_addr" yaml:"i2c_addr"`
	UpdateIntervalMS int    `mapstructure:"update_interval_ms" yaml:"update_interval_ms"`
}

// Period is the acquisition tick period, 1000/rate milliseconds, clamped to
// [1ns, math.MaxInt64].
func (c *Config) Period() time.Duration {
	ns := 1000 / c.Rate * float64(time.Millisecond)
	switch {
	case math.IsNaN(ns) || ns >= math.MaxInt64:
		return math.MaxInt64
	case ns < 1:
		return time.Nanosecond
	}
	return time.Duration(ns)
}

var defaults = map[string]any{
	"device":                     "/dev/ttyACM0",
	"frame_id":                   "imu",
	"burst_mode":                 true,
	"rate":                       100.0,
	"publish_temperature":        true,
	"bias_estimation_time":       0x070a,
	"spi_speed_hz":               1_000_000,
	"payload_encoding":           "json",
	"mqtt.broker":                "tcp://localhost:1883",
	"mqtt.client_id":             "adis-imu-node",
	"topics.imu":                 "imu",
	"topics.temperature":         "temperature",
	"topics.bias_request":        "bias_estimate/request",
	"topics.bias_response":       "bias_estimate/response",
	"web.enabled":                false,
	"web.listen":                 ":8080",
	"display.enabled":            false,
	"display.i2c_bus":            "",
	"display.i2c_addr":           0x3C,
	"display.update_interval_ms": 200,
	"debug":                      false,
}

// flagKeys maps config keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"device":              "device",
	"frame_id":            "frame-id",
	"burst_mode":          "burst-mode",
	"rate":                "rate",
	"publish_temperature": "publish-temperature",
	"payload_encoding":    "encoding",
	"mqtt.broker":         "broker",
	"web.enabled":         "web",
	"web.listen":          "listen",
	"display.enabled":     "display",
	"debug":               "debug",
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot modify it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	v := newViper()
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config: bad defaults: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Load resolves the configuration in this order, later wins: defaults,
// config file, ADIS_* environment variables, command-line flags.
//
// The file is configPath if set, else $ADIS_CONFIG, else adis.yaml in the
// working directory or /etc/adis. A missing file is only an error when it
// was named explicitly. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	explicit := true
	switch {
	case configPath != "":
		v.SetConfigFile(configPath)
	case os.Getenv(EnvConfigPath) != "":
		v.SetConfigFile(os.Getenv(EnvConfigPath))
	default:
		explicit = false
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigSearchPath0)
		v.AddConfigPath(DefaultConfigSearchPath1)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks ranges and required fields.
func (c *Config) validate() error {
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if c.FrameID == "" {
		return fmt.Errorf("frame_id is required")
	}
	if !(c.Rate > 0) || math.IsInf(c.Rate, 1) {
		return fmt.Errorf("rate must be a finite value > 0 Hz, got %v", c.Rate)
	}
	if c.SPISpeedHz <= 0 {
		return fmt.Errorf("spi_speed_hz must be > 0, got %d", c.SPISpeedHz)
	}
	switch c.PayloadEncoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("payload_encoding must be json or msgpack, got %q", c.PayloadEncoding)
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Topics.IMU == "" || c.Topics.BiasRequest == "" || c.Topics.BiasResponse == "" {
		return fmt.Errorf("topics.imu, topics.bias_request and topics.bias_response are required")
	}
	if c.PublishTemperature && c.Topics.Temperature == "" {
		return fmt.Errorf("topics.temperature is required when publish_temperature is set")
	}
	if c.Display.Enabled && c.Display.UpdateIntervalMS <= 0 {
		return fmt.Errorf("display.update_interval_ms must be > 0, got %d", c.Display.UpdateIntervalMS)
	}
	return nil
}

// Template renders the default configuration as YAML.
func Template() ([]byte, error) {
	return yaml.Marshal(Defaults())
}

// InitGlobal initializes the global configuration.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string, flags *pflag.FlagSet) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath, flags)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
