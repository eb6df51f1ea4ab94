// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DBPath     string    `yaml:"db_path"`
	DeviceName string    `yaml:"device_name"` // advertised local name
	BLE        BLEConfig `yaml:"ble"`
	LogLevel   string    `yaml:"log_level"`
}

// BLEConfig holds radio calibration and scan duty-cycle settings.
type BLEConfig struct {
	RSSIAtOneMeter      int     `yaml:"rssi_at_one_meter"`    // reference RSSI at 1 m, dBm
	EnvironmentalFactor float64 `yaml:"environmental_factor"` // path-loss exponent
	CloseThresholdM     float64 `yaml:"close_threshold_m"`
	MediumThresholdM    float64 `yaml:"medium_threshold_m"`
	ScanOnMs            int     `yaml:"scan_on_ms"`      // active scan window per duty cycle
	ScanOffMs           int     `yaml:"scan_off_ms"`     // pause between scan windows
	StaleAfterMs        int     `yaml:"stale_after_ms"`  // prune unseen devices; 0 disables
	MaxSessionMs        int     `yaml:"max_session_ms"`  // hard cap on one scan session; 0 disables
}

// ScanOn returns the active scan window as a duration.
func (c BLEConfig) ScanOn() time.Duration { return time.Duration(c.ScanOnMs) * time.Millisecond }

// ScanOff returns the pause between scan windows as a duration.
func (c BLEConfig) ScanOff() time.Duration { return time.Duration(c.ScanOffMs) * time.Millisecond }

// StaleAfter returns the device staleness window as a duration.
func (c BLEConfig) StaleAfter() time.Duration { return time.Duration(c.StaleAfterMs) * time.Millisecond }

// MaxSession returns the scan session cap as a duration.
func (c BLEConfig) MaxSession() time.Duration { return time.Duration(c.MaxSessionMs) * time.Millisecond }

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nearfind")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "nearfind", "nearfind.db")

	return &Config{
		DBPath:     dbPath,
		DeviceName: "NearFind",
		BLE: BLEConfig{
			RSSIAtOneMeter:      -69,
			EnvironmentalFactor: 2.0,
			CloseThresholdM:     2.0,
			MediumThresholdM:    5.0,
			ScanOnMs:            10_000,
			ScanOffMs:           5_000,
			StaleAfterMs:        0,
			MaxSessionMs:        600_000,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults. Tilde (~) in db_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DBPath = expandTilde(cfg.DBPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if c.BLE.EnvironmentalFactor <= 0 {
		return fmt.Errorf("ble.environmental_factor must be > 0")
	}
	if c.BLE.CloseThresholdM <= 0 {
		return fmt.Errorf("ble.close_threshold_m must be > 0")
	}
	if c.BLE.MediumThresholdM <= c.BLE.CloseThresholdM {
		return fmt.Errorf("ble.medium_threshold_m must be greater than ble.close_threshold_m")
	}
	if c.BLE.ScanOnMs <= 0 {
		return fmt.Errorf("ble.scan_on_ms must be > 0")
	}
	if c.BLE.ScanOffMs < 0 {
		return fmt.Errorf("ble.scan_off_ms must be >= 0")
	}
	if c.BLE.StaleAfterMs < 0 {
		return fmt.Errorf("ble.stale_after_ms must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
