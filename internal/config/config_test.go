package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instrument-logger/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8085", cfg.GetServerAddr())
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Session.StopTimeout)

	d := cfg.Session.Defaults
	assert.Equal(t, model.TransportRTU, d.Transport)
	assert.Equal(t, "/dev/ttyUSB0", d.Serial.Port)
	assert.Equal(t, 9600, d.Serial.BaudRate)
	assert.Equal(t, "N", d.Serial.Parity)
	assert.Equal(t, "127.0.0.1:502", d.TCP.Address())
	assert.Equal(t, uint8(1), d.UnitID)
	assert.Equal(t, uint16(2), d.Count)
	assert.Equal(t, "float32be", d.Encoding)
	assert.Equal(t, time.Second, d.PollEvery())
	require.Len(t, d.Sinks, 1)
	assert.Equal(t, model.SinkCSV, d.Sinks[0].Type)
	assert.Equal(t, "logs/modbus_data.csv", d.Sinks[0].Path)
	assert.NoError(t, d.Validate())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
database:
  enabled: true
  host: db.local
session:
  auto_start: true
  defaults:
    transport: tcp
    tcp:
      host: 10.0.0.5
      port: 1502
    function: input
    count: 4
    encoding: float32[cdab]
    sinks:
      - type: csv
        path: out.csv
      - type: postgres
        table: readings
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Contains(t, cfg.GetDatabaseDSN(), "host=db.local")
	assert.Equal(t, "10.0.0.5:1502", cfg.Session.Defaults.Endpoint())
	assert.Equal(t, model.FunctionInput, cfg.Session.Defaults.Function)
	require.Len(t, cfg.Session.Defaults.Sinks, 2)
	assert.Equal(t, "readings", cfg.Session.Defaults.Sinks[1].Table)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("INSTRUMENT_LOGGER_LOGGING_LEVEL", "debug")
	t.Setenv("INSTRUMENT_LOGGER_SESSION_DEFAULTS_SERIAL_PORT", "/dev/ttyS3")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/dev/ttyS3", cfg.Session.Defaults.Serial.Port)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: loud\n"))
	assert.ErrorContains(t, err, "logging.level")

	_, err = Load(writeConfig(t, "app:\n  environment: moon\n"))
	assert.ErrorContains(t, err, "app.environment")

	_, err = Load(writeConfig(t, "session:\n  auto_start: true\n  defaults:\n    count: 3\n"))
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
