// Package common provides shared constants, types, and utilities
// used across tunnelbar.
package common

import (
	"os"
	"path/filepath"
	"strings"
)

// GetConfigDir returns the path to the application configuration directory.
// It creates the directory if it doesn't exist.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", WrapError(err, "failed to get home directory")
	}

	configDir := filepath.Join(homeDir, ".config", ConfigDirName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", WrapError(err, "failed to create config directory")
	}

	return configDir, nil
}

// GetRuntimeDir returns a private directory for generated wg-quick files.
func GetRuntimeDir() (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, ConfigDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", WrapError(err, "failed to create runtime directory")
	}
	return dir, nil
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// InterfaceName turns a tunnel name into a valid wg-quick interface name:
// only [a-zA-Z0-9_=+.-], at most MaxInterfaceNameLen bytes.
// It returns "" when nothing usable is left.
func InterfaceName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '=' || r == '+' || r == '.' || r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
		if b.Len() == MaxInterfaceNameLen {
			break
		}
	}
	return strings.Trim(b.String(), ".")
}
