package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Connection.ReconnectMaxAttempts != 10 {
		t.Errorf("Connection.ReconnectMaxAttempts = %d, want 10", cfg.Connection.ReconnectMaxAttempts)
	}
	if cfg.Connection.ReconnectMaxBackoff != 30 {
		t.Errorf("Connection.ReconnectMaxBackoff = %d, want 30", cfg.Connection.ReconnectMaxBackoff)
	}
	if cfg.Connection.NotificationTimeout != 90 {
		t.Errorf("Connection.NotificationTimeout = %d, want 90", cfg.Connection.NotificationTimeout)
	}
	if cfg.Connection.CommandRate != 20 {
		t.Errorf("Connection.CommandRate = %d, want 20", cfg.Connection.CommandRate)
	}
	if cfg.Movement.ToleranceMM != 5 {
		t.Errorf("Movement.ToleranceMM = %d, want 5", cfg.Movement.ToleranceMM)
	}
	if cfg.Movement.WatchdogSeconds != 30 {
		t.Errorf("Movement.WatchdogSeconds = %d, want 30", cfg.Movement.WatchdogSeconds)
	}
	if cfg.Movement.NativeTargeting {
		t.Error("Movement.NativeTargeting = true, want false")
	}
	if cfg.Sensitivity != 0 {
		t.Errorf("Sensitivity = %d, want 0", cfg.Sensitivity)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
desk:
  address: "F0:B5:D1:12:34:56"
connection:
  reconnect_max_attempts: 5
  notification_timeout_seconds: 0
movement:
  tolerance_mm: 10
  native_targeting: true
sensitivity: 3
schedule:
  - cron: "0 9 * * 1-5"
    position: 100
  - cron: "45m"
    position: 0
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Desk.Address != "F0:B5:D1:12:34:56" {
		t.Errorf("Desk.Address = %q, want %q", cfg.Desk.Address, "F0:B5:D1:12:34:56")
	}
	if cfg.Connection.ReconnectMaxAttempts != 5 {
		t.Errorf("Connection.ReconnectMaxAttempts = %d, want 5", cfg.Connection.ReconnectMaxAttempts)
	}
	if cfg.Connection.NotificationTimeout != 0 {
		t.Errorf("Connection.NotificationTimeout = %d, want 0", cfg.Connection.NotificationTimeout)
	}
	// Fields the file does not set keep their defaults.
	if cfg.Connection.ReconnectMaxBackoff != 30 {
		t.Errorf("Connection.ReconnectMaxBackoff = %d, want default 30", cfg.Connection.ReconnectMaxBackoff)
	}
	if cfg.Connection.CommandRate != 20 {
		t.Errorf("Connection.CommandRate = %d, want default 20", cfg.Connection.CommandRate)
	}
	if cfg.Movement.ToleranceMM != 10 {
		t.Errorf("Movement.ToleranceMM = %d, want 10", cfg.Movement.ToleranceMM)
	}
	if !cfg.Movement.NativeTargeting {
		t.Error("Movement.NativeTargeting = false, want true")
	}
	if cfg.Movement.WatchdogSeconds != 30 {
		t.Errorf("Movement.WatchdogSeconds = %d, want default 30", cfg.Movement.WatchdogSeconds)
	}
	if cfg.Sensitivity != 3 {
		t.Errorf("Sensitivity = %d, want 3", cfg.Sensitivity)
	}
	if len(cfg.Schedule) != 2 {
		t.Fatalf("Schedule length = %d, want 2", len(cfg.Schedule))
	}
	if cfg.Schedule[0].Cron != "0 9 * * 1-5" || cfg.Schedule[0].Position != 100 {
		t.Errorf("Schedule[0] = %+v, want {0 9 * * 1-5 100}", cfg.Schedule[0])
	}
	if cfg.Schedule[1].Cron != "45m" || cfg.Schedule[1].Position != 0 {
		t.Errorf("Schedule[1] = %+v, want {45m 0}", cfg.Schedule[1])
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "negative reconnect attempts",
			modify:  func(c *Config) { c.Connection.ReconnectMaxAttempts = -1 },
			wantErr: true,
		},
		{
			name:    "zero backoff cap",
			modify:  func(c *Config) { c.Connection.ReconnectMaxBackoff = 0 },
			wantErr: true,
		},
		{
			name:    "disabled notification timeout",
			modify:  func(c *Config) { c.Connection.NotificationTimeout = 0 },
			wantErr: false,
		},
		{
			name:    "zero command rate",
			modify:  func(c *Config) { c.Connection.CommandRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero tolerance",
			modify:  func(c *Config) { c.Movement.ToleranceMM = 0 },
			wantErr: true,
		},
		{
			name:    "zero watchdog",
			modify:  func(c *Config) { c.Movement.WatchdogSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "sensitivity too high",
			modify:  func(c *Config) { c.Sensitivity = 9 },
			wantErr: true,
		},
		{
			name:    "negative sensitivity",
			modify:  func(c *Config) { c.Sensitivity = -1 },
			wantErr: true,
		},
		{
			name:    "schedule position out of range",
			modify:  func(c *Config) { c.Schedule = []ScheduleEntry{{Cron: "30m", Position: 101}} },
			wantErr: true,
		},
		{
			name:    "schedule entry without cron",
			modify:  func(c *Config) { c.Schedule = []ScheduleEntry{{Position: 50}} },
			wantErr: true,
		},
		{
			name:    "valid schedule",
			modify:  func(c *Config) { c.Schedule = []ScheduleEntry{{Cron: "0 9 * * *", Position: 100}} },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "flh-desk", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# flh-desk") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Connection.CommandRate != 20 {
		t.Errorf("written config Connection.CommandRate = %d, want 20", cfg.Connection.CommandRate)
	}
	if cfg.Movement.ToleranceMM != 5 {
		t.Errorf("written config Movement.ToleranceMM = %d, want 5", cfg.Movement.ToleranceMM)
	}
}

func TestWriteDefault_LeavesExistingFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir := filepath.Join(tmpHome, ".config", "flh-desk")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	existing := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(existing, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != existing {
		t.Errorf("WriteDefault() path = %q, want %q", path, existing)
	}

	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != "log_level: debug\n" {
		t.Errorf("existing config was overwritten: %q", data)
	}
}
