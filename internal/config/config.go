package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pi30/internal/pi30"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	TransportSerial = "serial"
	TransportHID    = "hid"
	TransportMock   = "mock"
)

type Config struct {
	LogLevel     zapcore.Level  `mapstructure:"-"`
	LogLevelName string         `mapstructure:"log_level"`
	Debug        bool           `mapstructure:"debug"`
	Mock         bool           `mapstructure:"mock"`
	Transport    string         `mapstructure:"transport"`
	Serial       SerialConfig   `mapstructure:"serial"`
	HID          HIDConfig      `mapstructure:"hid"`
	Poll         PollConfig     `mapstructure:"poll"`
	PollCommands []pi30.Command `mapstructure:"-"`

	ExchangeTimeoutMillis uint32 `mapstructure:"exchange_timeout_millis"`
	VerifyCRC             bool   `mapstructure:"verify_crc"`
}

type SerialConfig struct {
	Port              string
	Baud              int
	ReadTimeoutMillis uint32 `mapstructure:"read_timeout_millis"`
}

type HIDConfig struct {
	VendorID  uint16 `mapstructure:"vendor_id"`
	ProductID uint16 `mapstructure:"product_id"`
}

type PollConfig struct {
	Commands       []string
	IntervalMillis uint32 `mapstructure:"interval_millis"`
}

func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.ExchangeTimeoutMillis) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMillis) * time.Millisecond
}

// PollInterval is zero for a single polling cycle.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMillis) * time.Millisecond
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("mock", false)
	v.SetDefault("transport", TransportSerial)
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 2400)
	v.SetDefault("serial.read_timeout_millis", 500)
	v.SetDefault("hid.vendor_id", 0x0665)
	v.SetDefault("hid.product_id", 0x5161)
	v.SetDefault("exchange_timeout_millis", 3000)
	v.SetDefault("verify_crc", false)
	v.SetDefault("poll.commands", []string{string(pi30.CommandGeneralStatus)})
	v.SetDefault("poll.interval_millis", 0)
}

// Load reads the environment and the optional config file into v, then
// decodes and validates the result. Defaults and flags are expected to be
// registered on v already.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("pi30")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgFile := v.GetString("config")
	if cfgFile == "" {
		cfgFile = os.Getenv("CONFIG_FILE")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = ParseLogLevel(cfg.LogLevelName)
	if cfg.Debug {
		cfg.LogLevel = zapcore.DebugLevel
	}
	if cfg.Mock {
		cfg.Transport = TransportMock
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks bounds and resolves the poll command names.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSerial, TransportHID, TransportMock:
	default:
		return fmt.Errorf("config param transport should be one of serial, hid, mock, got %q", c.Transport)
	}
	if c.Transport == TransportSerial && c.Serial.Baud <= 0 {
		return errors.New("config param serial.baud should be > 0")
	}
	if c.ExchangeTimeoutMillis < 100 {
		return errors.New("config param exchange_timeout_millis should be >= 100")
	}
	if c.Poll.IntervalMillis != 0 && c.Poll.IntervalMillis < 1000 {
		return errors.New("config param poll.interval_millis should be 0 or >= 1000")
	}
	if len(c.Poll.Commands) == 0 {
		return errors.New("config param poll.commands should not be empty")
	}

	c.PollCommands = c.PollCommands[:0]
	for _, name := range c.Poll.Commands {
		// a single env value may still carry a comma separated list
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			cmd, err := pi30.ParseCommand(part)
			if err != nil {
				return fmt.Errorf("config param poll.commands: %w", err)
			}
			c.PollCommands = append(c.PollCommands, cmd)
		}
	}
	if len(c.PollCommands) == 0 {
		return errors.New("config param poll.commands should not be empty")
	}
	return nil
}

// ParseLogLevel maps a level name to its zap level. Unknown names fall back
// to info.
func ParseLogLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zapcore.DebugLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
