package thermostat

import (
	"fmt"
	"os"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/openrv/easytouch/internal/cmdqueue"
	"github.com/openrv/easytouch/internal/connmgr"
)

// Config describes one thermostat plus its tuning knobs. All durations and
// caps default to values derived from observed device behavior; a config
// file only needs the address and password.
type Config struct {
	// Address is the thermostat's BLE address (MAC on Linux, CoreBluetooth
	// UUID on macOS). Immutable once the client is created.
	Address string `yaml:"address"`

	// Password is the device password set in the vendor app. Empty disables
	// the authentication write.
	Password string `yaml:"password"`

	Connection connmgr.Config  `yaml:"connection"`
	Commands   cmdqueue.Config `yaml:"commands"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	defaults.SetDefaults(c)
	c.Connection.Normalize()
	c.Commands.Normalize()
}

// Validate reports configuration errors a client cannot start with.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("device address is required")
	}
	return nil
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}
