package config

import (
	"os"
	"path/filepath"
)

// defaultSessionFile is where the CLI keeps its login between runs.
func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".points-session.json"
	}
	return filepath.Join(dir, "points-engine", "session.json")
}
