package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	configDirName  = ".treenav"
	configFileName = "config.yaml"
)

// Discover returns the config file to use: the nearest .treenav/config.yaml
// above the working directory, then the user config file.
func Discover() (string, bool) {
	if dir, err := os.Getwd(); err == nil {
		if path, ok := findConfig(dir); ok {
			return path, true
		}
	}
	path := UserConfigPath()
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	return "", false
}

// findConfig walks up from dir looking for .treenav/config.yaml.
func findConfig(dir string) (string, bool) {
	home, _ := os.UserHomeDir()

	for {
		candidate := filepath.Join(dir, configDirName, configFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		// Don't go above home directory
		if home != "" && dir == home {
			break
		}
		dir = parent
	}
	return "", false
}

// UserConfigPath is $XDG_CONFIG_HOME/treenav/config.yaml.
func UserConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if d, err := os.UserConfigDir(); err == nil {
			base = d
		} else {
			base = "."
		}
	}
	return filepath.Join(base, "treenav", configFileName)
}

// StateDir is $XDG_STATE_HOME/treenav, falling back to ~/.local/state/treenav.
func StateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "treenav")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "treenav")
	}
	return filepath.Join(os.TempDir(), "treenav")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
