package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// dirName is the per-user directory holding Beacon's durable state.
	dirName = "beacon"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "beacon.sqlite"
)

// DataDir returns the application data directory path.
// On Windows: %LOCALAPPDATA%/beacon/
// On other platforms: the user config dir equivalent.
func DataDir() (string, error) {
	var base string

	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			base = localAppData
		}
	}
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("get user config dir: %w", err)
		}
		base = dir
	}

	return filepath.Join(base, dirName), nil
}

// DefaultDatabasePath returns the default SQLite path, creating the data
// directory if needed.
func DefaultDatabasePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create data dir %q: %w", dir, err)
	}
	return filepath.Join(dir, DatabaseFileName), nil
}
