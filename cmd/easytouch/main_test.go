package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrv/easytouch/internal/cmdqueue"
	"github.com/openrv/easytouch/internal/device"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	assert.Contains(t, FormatUserError(device.ErrNotConnected), "not connected")
	assert.Contains(t, FormatUserError(cmdqueue.ErrCommandTimeout), "acknowledge")
	assert.Contains(t, FormatUserError(fmt.Errorf("wrapped: %w", cmdqueue.ErrQueueClosed)), "shut down")
	assert.Equal(t, "plain failure", FormatUserError(fmt.Errorf("plain failure")))
}

func TestBuildConfig(t *testing.T) {
	t.Run("address only", func(t *testing.T) {
		deviceConfig, devicePassword = "", ""
		cfg, err := buildConfig("AA:BB:CC:DD:EE:FF")
		require.NoError(t, err)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Address)
		assert.Equal(t, 3, cfg.Commands.MaxAttempts, "defaults applied")
	})

	t.Run("file plus overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, []byte("address: 11:22:33:44:55:66\npassword: \"0000\"\n"), 0o644))

		deviceConfig, devicePassword = path, "9999"
		defer func() { deviceConfig, devicePassword = "", "" }()

		cfg, err := buildConfig("AA:BB:CC:DD:EE:FF")
		require.NoError(t, err)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Address, "argument wins over the file")
		assert.Equal(t, "9999", cfg.Password, "flag wins over the file")
	})

	t.Run("missing address", func(t *testing.T) {
		deviceConfig, devicePassword = "", ""
		_, err := buildConfig("")
		assert.Error(t, err)
	})
}

func TestLoadServeConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "serve.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
mqtt:
  broker_url: tcp://broker:1883
thermostats:
  - address: AA:BB:CC:DD:EE:FF
    password: "1234"
    commands:
      command_timeout: 10s
`), 0o644))

		cfg, err := loadServeConfig(path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Listen)
		assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
		require.Len(t, cfg.Thermostats, 1)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Thermostats[0].Address)
		assert.Equal(t, 10*time.Second, cfg.Thermostats[0].Commands.CommandTimeout)
	})

	t.Run("defaults listen address", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "serve.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
mqtt:
  broker_url: tcp://broker:1883
thermostats:
  - address: AA:BB:CC:DD:EE:FF
`), 0o644))

		cfg, err := loadServeConfig(path)
		require.NoError(t, err)
		assert.Equal(t, ":9742", cfg.Listen)
	})

	t.Run("rejects empty thermostat list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "serve.yaml")
		require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\n"), 0o644))
		_, err := loadServeConfig(path)
		assert.Error(t, err)
	})
}
