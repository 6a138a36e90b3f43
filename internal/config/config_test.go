package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pi30/internal/pi30"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 2400, cfg.Serial.Baud)
	assert.Equal(t, 500*time.Millisecond, cfg.ReadTimeout())
	assert.Equal(t, uint16(0x0665), cfg.HID.VendorID)
	assert.Equal(t, uint16(0x5161), cfg.HID.ProductID)
	assert.Equal(t, 3*time.Second, cfg.ExchangeTimeout())
	assert.False(t, cfg.VerifyCRC)
	assert.Equal(t, []pi30.Command{pi30.CommandGeneralStatus}, cfg.PollCommands)
	assert.Zero(t, cfg.PollInterval())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PI30_TRANSPORT", "HID")
	t.Setenv("PI30_SERIAL_BAUD", "9600")
	t.Setenv("PI30_HID_VENDOR_ID", "0x1234")
	t.Setenv("PI30_POLL_COMMANDS", "qpigs,QPIRI")
	t.Setenv("PI30_POLL_INTERVAL_MILLIS", "5000")
	t.Setenv("PI30_LOG_LEVEL", "warn")

	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, TransportHID, cfg.Transport)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, uint16(0x1234), cfg.HID.VendorID)
	assert.Equal(t, []pi30.Command{pi30.CommandGeneralStatus, pi30.CommandRating}, cfg.PollCommands)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, zapcore.WarnLevel, cfg.LogLevel)
}

func TestLoadDebugAndMockFlags(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	v := newViper()
	v.Set("debug", true)
	v.Set("mock", true)
	v.Set("log_level", "error")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Equal(t, TransportMock, cfg.Transport)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi30.yaml")
	content := `
transport: mock
verify_crc: true
poll:
  commands: [QPIGS, QMOD, QPIWS]
  interval_millis: 10000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, TransportMock, cfg.Transport)
	assert.True(t, cfg.VerifyCRC)
	assert.Equal(t, []pi30.Command{pi30.CommandGeneralStatus, pi30.CommandDeviceMode, pi30.CommandWarningStatus}, cfg.PollCommands)
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
}

func TestLoadMissingConfigFile(t *testing.T) {
	v := newViper()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load(v)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Transport:             TransportSerial,
			Serial:                SerialConfig{Baud: 2400},
			ExchangeTimeoutMillis: 3000,
			Poll:                  PollConfig{Commands: []string{"QPIGS"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport = "bluetooth" }},
		{"zero baud", func(c *Config) { c.Serial.Baud = 0 }},
		{"short exchange timeout", func(c *Config) { c.ExchangeTimeoutMillis = 50 }},
		{"short interval", func(c *Config) { c.Poll.IntervalMillis = 500 }},
		{"no commands", func(c *Config) { c.Poll.Commands = nil }},
		{"blank commands", func(c *Config) { c.Poll.Commands = []string{" , "} }},
		{"unknown command", func(c *Config) { c.Poll.Commands = []string{"QPIGS", "QXYZ"} }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Poll.Commands = []string{"QXYZ"}
	assert.ErrorIs(t, c.Validate(), pi30.ErrUnknownCommand)

	// baud only matters on the serial transport
	c = valid()
	c.Transport = TransportHID
	c.Serial.Baud = 0
	assert.NoError(t, c.Validate())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLogLevel("trace"))
	assert.Equal(t, zapcore.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLogLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, zapcore.FatalLevel, ParseLogLevel("fatal"))
	assert.Equal(t, zapcore.InfoLevel, ParseLogLevel("verbose"))
}
