// Package config provides configuration management for tunnelbar.
// It handles loading, saving, and managing application settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/yllada/tunnelbar/common"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// ShowNotifications enables desktop notifications for tunnel events.
	ShowNotifications bool `yaml:"show_notifications"`
	// AutoReconnect reasserts an active tunnel when health checks keep failing.
	AutoReconnect bool `yaml:"auto_reconnect"`
	// MonitorInterval is how often the tray reconciles with wg-quick and the tunnel store.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	// MaxMenuTunnels is the number of tunnel rows the tray menu can show.
	MaxMenuTunnels int `yaml:"max_menu_tunnels"`
	// ManageCommand opens the manage tunnels window. Empty disables the menu action.
	ManageCommand []string `yaml:"manage_command,omitempty"`
	// ElevateCommand is prefixed to wg-quick invocations, e.g. ["pkexec"].
	ElevateCommand []string `yaml:"elevate_command,omitempty"`
	// RecordHistory stores tunnel status transitions in the history database.
	RecordHistory bool `yaml:"record_history"`
	// HistoryRetention is how long recorded transitions are kept.
	HistoryRetention time.Duration `yaml:"history_retention"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ShowNotifications: true,
		AutoReconnect:     true,
		MonitorInterval:   common.MonitorInterval,
		MaxMenuTunnels:    common.DefaultMaxMenuTunnels,
		ManageCommand:     defaultManageCommand(),
		ElevateCommand:    defaultElevateCommand(),
		RecordHistory:     true,
		HistoryRetention:  common.DefaultHistoryRetention,
		LogLevel:          "info",
	}
}

func defaultElevateCommand() []string {
	if runtime.GOOS == "darwin" {
		return []string{"sudo", "-n"}
	}
	return []string{"pkexec"}
}

func defaultManageCommand() []string {
	if runtime.GOOS == "darwin" {
		return []string{"open", "-a", "Terminal", "--args", "tunnelbar", "manage"}
	}
	return []string{"x-terminal-emulator", "-e", "tunnelbar", "manage"}
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from path, writing defaults when it is missing.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // reject unknown fields

	config := *DefaultConfig()
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, path, err)
	}

	config.validate()
	return &config, nil
}

// validate replaces out-of-range values with defaults.
func (c *Config) validate() {
	defaults := DefaultConfig()
	if c.MonitorInterval < time.Second {
		c.MonitorInterval = defaults.MonitorInterval
	}
	if c.MaxMenuTunnels <= 0 {
		c.MaxMenuTunnels = defaults.MaxMenuTunnels
	}
	if c.HistoryRetention < time.Hour {
		c.HistoryRetention = defaults.HistoryRetention
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaults.LogLevel
	}
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}
