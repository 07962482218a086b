package storage

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetDataDir returns the appropriate data directory for the current OS
func GetDataDir(appName string) (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("LOCALAPPDATA")
		if baseDir == "" {
			baseDir = os.Getenv("PROGRAMDATA")
		}
		if baseDir == "" {
			return "", os.ErrNotExist
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, "Library", "Application Support")

	default: // Linux and other Unix-like systems
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(homeDir, ".local", "share")
		}
	}

	dataDir := filepath.Join(baseDir, appName)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	return dataDir, nil
}

// GetDefaultDBPath returns the default SQLite database path for the kiosk
func GetDefaultDBPath() (string, error) {
	dataDir, err := GetDataDir("VisitMaster")
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "kiosk.db"), nil
}

// GetDefaultKeyPath returns the default path of the at-rest encryption key
func GetDefaultKeyPath() (string, error) {
	dataDir, err := GetDataDir("VisitMaster")
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "kiosk.key"), nil
}
