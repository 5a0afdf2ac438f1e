package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Desk        DeskConfig       `yaml:"desk"`
	Connection  ConnectionConfig `yaml:"connection"`
	Movement    MovementConfig   `yaml:"movement"`
	Sensitivity int              `yaml:"sensitivity"` // applied on connect; 0 leaves the desk's setting alone
	Schedule    []ScheduleEntry  `yaml:"schedule"`
	LogLevel    string           `yaml:"log_level"`
}

// DeskConfig identifies the desk to control.
type DeskConfig struct {
	Address     string `yaml:"address"`      // MAC address, or CoreBluetooth UUID on macOS
	ServiceUUID string `yaml:"service_uuid"` // override; empty uses the FLH default
}

// ConnectionConfig holds session tuning.
type ConnectionConfig struct {
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`        // 0 retries forever
	ReconnectMaxBackoff  int `yaml:"reconnect_max_backoff_seconds"` // backoff cap between attempts
	NotificationTimeout  int `yaml:"notification_timeout_seconds"`  // telemetry silence treated as link loss; 0 disables
	CommandRate          int `yaml:"command_rate_per_second"`
}

// MovementConfig holds movement supervision tuning.
type MovementConfig struct {
	ToleranceMM     int  `yaml:"tolerance_mm"` // how close counts as arrived
	WatchdogSeconds int  `yaml:"watchdog_seconds"`
	NativeTargeting bool `yaml:"native_targeting"` // let the firmware drive targeted moves
}

// ScheduleEntry is one recurring position change.
type ScheduleEntry struct {
	Cron     string `yaml:"cron"` // cron expression or Go duration
	Position int    `yaml:"position"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "flh-desk")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			ReconnectMaxAttempts: 10,
			ReconnectMaxBackoff:  30,
			NotificationTimeout:  90,
			CommandRate:          20,
		},
		Movement: MovementConfig{
			ToleranceMM:     5,
			WatchdogSeconds: 30,
		},
		Sensitivity: 0,
		LogLevel:    "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values. The desk address is not
// required here: scanning works without one, and verbs that need it say so.
func (c *Config) Validate() error {
	if c.Connection.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("connection.reconnect_max_attempts must be >= 0")
	}

	if c.Connection.ReconnectMaxBackoff <= 0 {
		return fmt.Errorf("connection.reconnect_max_backoff_seconds must be > 0")
	}

	if c.Connection.NotificationTimeout < 0 {
		return fmt.Errorf("connection.notification_timeout_seconds must be >= 0")
	}

	if c.Connection.CommandRate <= 0 {
		return fmt.Errorf("connection.command_rate_per_second must be > 0")
	}

	if c.Movement.ToleranceMM <= 0 {
		return fmt.Errorf("movement.tolerance_mm must be > 0")
	}

	if c.Movement.WatchdogSeconds <= 0 {
		return fmt.Errorf("movement.watchdog_seconds must be > 0")
	}

	if c.Sensitivity < 0 || c.Sensitivity > 8 {
		return fmt.Errorf("sensitivity must be between 0 and 8, got %d", c.Sensitivity)
	}

	for i, entry := range c.Schedule {
		if entry.Cron == "" {
			return fmt.Errorf("schedule[%d].cron must not be empty", i)
		}
		if entry.Position < 0 || entry.Position > 100 {
			return fmt.Errorf("schedule[%d].position must be between 0 and 100, got %d", i, entry.Position)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes a commented default config to the default path,
// creating the directory if needed. It returns the path written. An
// existing file is left alone.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine home directory")
	}
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# flh-desk configuration\n# Set desk.address to your desk's BLE address (find it with: flhctl scan).\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
