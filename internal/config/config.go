// Package config loads the gateway configuration from YAML with struct-tag
// defaults, so an empty or partial file yields a fully usable configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("5s", "100ms") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the gateway configuration.
type Config struct {
	// Listen is the TCP address the RPC server binds to.
	Listen string `yaml:"listen" default:"0.0.0.0:8999"`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level" default:"info"`

	// Announce enables mDNS announcement of the RPC endpoint.
	Announce bool `yaml:"announce" default:"false"`

	// AnnounceName is the mDNS instance name.
	AnnounceName string `yaml:"announce_name" default:"btgated"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig bounds the per-event awaits. Zero values are replaced with
// the defaults on load.
type TimeoutConfig struct {
	AdvertiseStart        Duration `yaml:"advertise_start"`
	ScannerRegister       Duration `yaml:"scanner_register"`
	DiscoveryStart        Duration `yaml:"discovery_start"`
	GattOperation         Duration `yaml:"gatt_operation"`
	AdvertiseRestartDelay Duration `yaml:"advertise_restart_delay"`
}

func (t *TimeoutConfig) applyDefaults() {
	if t.AdvertiseStart == 0 {
		t.AdvertiseStart = Duration(5 * time.Second)
	}
	if t.ScannerRegister == 0 {
		t.ScannerRegister = Duration(10 * time.Second)
	}
	if t.DiscoveryStart == 0 {
		t.DiscoveryStart = Duration(10 * time.Second)
	}
	if t.GattOperation == 0 {
		t.GattOperation = Duration(30 * time.Second)
	}
	if t.AdvertiseRestartDelay == 0 {
		t.AdvertiseRestartDelay = Duration(time.Second)
	}
}

// Default returns the configuration with every field at its default.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Timeouts.applyDefaults()
	return cfg
}

// Load reads a YAML config file. Fields the file omits keep their defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Timeouts.applyDefaults()
	return cfg, nil
}
